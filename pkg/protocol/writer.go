package protocol

import (
	"io"
	"strings"

	"go.uber.org/multierr"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/formats"
)

// Writer writes replies. Each reply numbers its vertices from 1.
type Writer struct {
	ow *formats.OBJWriter
}

// NewWriter returns a writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{ow: formats.NewOBJWriter(w)}
}

// WriteResult writes the reply for a processed batch and flushes it.
func (w *Writer) WriteResult(b *Batch, res *atlas.Result) error {
	w.start()
	for i, mr := range res.Meshes {
		w.ow.Mesh(b.Decls[i], mr)
		for _, err := range multierr.Errors(mr.Err) {
			w.writeError(err)
		}
	}
	if res.Status == atlas.StatusCancelled {
		w.ow.Printf(CancelMarker)
	} else {
		w.ow.Printf(DoneMarker)
	}
	return w.ow.Flush()
}

// WriteFailure writes the reply for a batch that could not be processed.
func (w *Writer) WriteFailure(err error) error {
	w.start()
	w.writeError(err)
	w.ow.Printf(DoneMarker)
	return w.ow.Flush()
}

func (w *Writer) start() {
	w.ow.Reset()
	w.ow.Printf("%s %d", StartMarker, Version)
}

func (w *Writer) writeError(err error) {
	msg := strings.Join(strings.Fields(err.Error()), " ")
	w.ow.Printf("%s %s %s", ErrorPrefix, atlas.ErrorKind(err), msg)
}
