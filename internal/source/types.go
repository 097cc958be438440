package source

// FileID indexes a file within its FileSet.
type FileID uint32

// FileFlags records how a file's bytes were obtained.
type FileFlags uint8

const (
	FileVirtual FileFlags = 1 << iota
	FileHadBOM
	FileNormalizedCRLF
)

// File is one loaded assembly source. LineIdx holds the offset of every
// '\n' in Content.
type File struct {
	ID      FileID
	Path    string
	Content []byte
	LineIdx []uint32
	Flags   FileFlags
}

// LineCol is a 1-based line and column.
type LineCol struct {
	Line uint32
	Col  uint32
}
