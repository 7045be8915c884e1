// Package protocol implements the line protocol spoken over stdin/stdout: OBJ
// batches in, unwrapped OBJ out.
package protocol

import (
	"github.com/google/uuid"

	"github.com/Faultbox/uvatlas/pkg/atlas"
	"github.com/Faultbox/uvatlas/pkg/atlas/mesh"
)

// Version is written after the start marker of every reply.
const Version = 1

// Directives.
const (
	StartMarker  = "STARTOBJ" // Starts a reply, followed by Version
	DoneMarker   = "Done"     // Ends a completed reply
	CancelMarker = "Cancelled"
	EndDirective = "end" // Ends an input batch
	OptDirective = "opt" // "opt <name> [value]" overrides an option for one batch
	ErrorPrefix  = "# error"
)

// Batch is one unit of work read from the input.
type Batch struct {
	ID      uuid.UUID
	Decls   []mesh.Decl
	Options atlas.Options

	// Err is set when an option line was rejected. The reader has still
	// consumed the batch up to its terminator. Geometry errors stay with the
	// object they belong to, see mesh.Decl.Err.
	Err error
}
