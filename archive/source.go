package archive

// ZipSource adapts a ZIP archive on disk to the pipeline's Source
// contract.
type ZipSource struct {
	Path string
}

// NewZipSource returns a source reading from the archive at path.
func NewZipSource(path string) *ZipSource {
	return &ZipSource{Path: path}
}

// ListDataFiles lists the archive's daily data members, sorted.
func (s *ZipSource) ListDataFiles() ([]string, error) {
	return ListDataFiles(s.Path)
}

// Extract streams one member to dest.
func (s *ZipSource) Extract(member, dest string) error {
	return ExtractMember(s.Path, member, dest)
}

// ManifestDigests returns the embedded manifest's expected digests.
func (s *ZipSource) ManifestDigests() map[string]string {
	return ManifestDigests(s.Path)
}
