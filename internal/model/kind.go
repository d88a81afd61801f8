package model

// Kinds recognised by the type classifier.
const (
	KindImage    = "image"
	KindVideo    = "video"
	KindAudio    = "audio"
	KindDocument = "document"
	KindArchive  = "archive"
	KindCode     = "code"
	KindText     = "text"
	KindOther    = "other"
)

var kindByExt = map[string]string{}

func init() {
	register := func(kind string, exts ...string) {
		for _, e := range exts {
			kindByExt[e] = kind
		}
	}
	register(KindImage, "jpg", "jpeg", "png", "gif", "bmp", "tif", "tiff", "webp", "heic", "heif", "svg", "ico", "raw", "cr2", "nef", "arw", "dng")
	register(KindVideo, "mp4", "m4v", "mov", "avi", "mkv", "webm", "wmv", "flv", "mpg", "mpeg", "3gp")
	register(KindAudio, "mp3", "wav", "flac", "aac", "ogg", "oga", "m4a", "wma", "opus", "aiff")
	register(KindDocument, "pdf", "doc", "docx", "odt", "rtf", "xls", "xlsx", "ods", "ppt", "pptx", "odp", "epub", "pages", "numbers", "key")
	register(KindArchive, "zip", "tar", "gz", "tgz", "bz2", "xz", "zst", "7z", "rar", "iso", "dmg")
	register(KindCode, "go", "py", "js", "ts", "tsx", "jsx", "java", "c", "h", "cc", "cpp", "hpp", "rs", "rb", "php", "sh", "bash", "zsh", "swift", "kt", "cs", "sql", "html", "css", "scss")
	register(KindText, "txt", "md", "markdown", "csv", "tsv", "log", "json", "yaml", "yml", "toml", "xml", "ini", "cfg", "conf", "rst")
}

// KindOf classifies a lower-cased extension (without dot).
func KindOf(ext string) string {
	if k, ok := kindByExt[ext]; ok {
		return k
	}
	return KindOther
}

// IsKind reports whether s names one of the known kinds.
func IsKind(s string) bool {
	switch s {
	case KindImage, KindVideo, KindAudio, KindDocument, KindArchive, KindCode, KindText, KindOther:
		return true
	}
	return false
}
