package source

import (
	"fmt"
	"os"

	"fortio.org/safecast"
)

// FileSet keeps every assembly source loaded during a run so that
// diagnostics and op line numbers can be resolved back to text. Loading
// the same path twice yields two files; ids are never reused.
type FileSet struct {
	files []File
}

func NewFileSet() *FileSet { return &FileSet{} }

// Add stores already normalized content under path.
func (fs *FileSet) Add(path string, content []byte, flags FileFlags) FileID {
	n, err := safecast.Conv[uint32](len(fs.files))
	if err != nil {
		panic(fmt.Errorf("source: too many files: %w", err))
	}
	id := FileID(n)
	fs.files = append(fs.files, File{
		ID:      id,
		Path:    normalizePath(path),
		Content: content,
		LineIdx: buildLineIndex(content),
		Flags:   flags,
	})
	return id
}

// Load reads path from disk, dropping a UTF-8 BOM and folding CRLF line
// endings before the file is added.
func (fs *FileSet) Load(path string) (FileID, error) {
	content, err := os.ReadFile(path) // #nosec G304 -- program paths come from the command line
	if err != nil {
		return 0, err
	}
	var flags FileFlags
	content, bom := removeBOM(content)
	if bom {
		flags |= FileHadBOM
	}
	content, crlf := normalizeCRLF(content)
	if crlf {
		flags |= FileNormalizedCRLF
	}
	return fs.Add(path, content, flags), nil
}

// AddVirtual adds in-memory source such as a test fixture.
func (fs *FileSet) AddVirtual(name string, content []byte) FileID {
	return fs.Add(name, content, FileVirtual)
}

// Get returns nil for an id this set never handed out.
func (fs *FileSet) Get(id FileID) *File {
	if int(id) >= len(fs.files) {
		return nil
	}
	return &fs.files[id]
}

func (fs *FileSet) Resolve(span Span) (start, end LineCol) {
	f := &fs.files[span.File]
	return toLineCol(f.LineIdx, span.Start), toLineCol(f.LineIdx, span.End)
}

// LineStart is the byte offset of 1-based line n. Lines past the end
// clamp to the start of the last line.
func (f *File) LineStart(n uint32) uint32 {
	if n <= 1 || len(f.LineIdx) == 0 {
		return 0
	}
	i := min(int(n)-2, len(f.LineIdx)-1)
	return f.LineIdx[i] + 1
}

// GetLine returns 1-based line n without its newline, or "" when the file
// has no such line.
func (f *File) GetLine(n uint32) string {
	if n == 0 || int(n) > f.LineCount() {
		return ""
	}
	start := int(f.LineStart(n))
	end := len(f.Content)
	if int(n)-1 < len(f.LineIdx) {
		end = int(f.LineIdx[n-1])
	}
	return string(f.Content[start:end])
}

// LineCount counts a trailing line without a newline as a line.
func (f *File) LineCount() int {
	n := len(f.LineIdx)
	if len(f.Content) > 0 && f.Content[len(f.Content)-1] != '\n' {
		n++
	}
	return n
}
