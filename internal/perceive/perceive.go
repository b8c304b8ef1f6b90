package perceive

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
)

// ScreenReader supplies the raw text visible on screen. Capture and OCR
// proper live outside this module; the core only consumes their output.
type ScreenReader interface {
	ReadScreen(ctx context.Context) (string, error)
}

// FileReader reads screen text from a dump file, for offline evaluation
// and replay.
type FileReader struct {
	Path string
}

func (f FileReader) ReadScreen(_ context.Context) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return "", eris.Wrapf(err, "perceive: read %s", f.Path)
	}
	return string(data), nil
}

// StaticReader returns fixed text, for tests and simulation.
type StaticReader struct {
	Text string
}

func (s StaticReader) ReadScreen(_ context.Context) (string, error) {
	return s.Text, nil
}

// NewReader creates a ScreenReader based on the configured provider.
func NewReader(provider, path string) (ScreenReader, error) {
	switch provider {
	case "file", "":
		if path == "" {
			return nil, eris.New("perceive: file provider requires a path")
		}
		return FileReader{Path: path}, nil
	default:
		return nil, eris.Errorf("perceive: unknown provider %q", provider)
	}
}
