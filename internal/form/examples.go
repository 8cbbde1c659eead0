package form

// Examples are the sample texts offered on the speech page.
var Examples = []string{
	"Trăm năm trong cõi người ta, chữ tài chữ mệnh khéo là ghét nhau.",
	"Đoạn trường tân thanh, thường được biết đến với cái tên đơn giản là Truyện Kiều, " +
		"là một truyện thơ của đại thi hào Nguyễn Du",
	"Lục Vân Tiên quê ở huyện Đông Thành, khôi ngô tuấn tú, tài kiêm văn võ. " +
		"Nghe tin triều đình mở khoa thi, Vân Tiên từ gia thây xuống núi đua tài.",
	"Lê Quý Đôn, tên thuở nhỏ là Lê Danh Phương, là vị quan thời Lê trung hưng, " +
		"cũng là nhà thơ và được mệnh danh là nhà bác học lớn của Việt Nam trong thời phong kiến",
	"Tất cả mọi người đều sinh ra có quyền bình đẳng. Tạo hóa cho họ những quyền không ai " +
		"có thể xâm phạm được; trong những quyền ấy, có quyền được sống, quyền tự do và quyền mưu cầu hạnh phúc.",
}
