package reconcile

import (
	"slices"
	"strings"

	"github.com/tonimelisma/tower/internal/snapshot"
)

// OpKind is the remote operation a planned change requires.
type OpKind int

const (
	OpRegister OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpRegister:
		return "register"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one planned remote operation for a single path.
type Op struct {
	Kind OpKind
	Path string
	Root string
	File snapshot.File // observed attributes; zero for deletes
}

// rootSnapshot pairs a watch root with the files found under it.
type rootSnapshot struct {
	Root  string
	Files []snapshot.File
}

// Plan is the output of the diff phase.
type Plan struct {
	Ops       []Op
	Unchanged int
	// Retags lists unchanged files whose owning root changed, e.g. because
	// the previous owner was unwatched while a parent root still covers them.
	Retags map[string]string
}

// buildPlan diffs the current snapshots against the last-known state. roots
// must be in watch-list order: when watch roots overlap, the first root that
// reports a file owns it. A path is either registered or deleted, never both.
func buildPlan(roots []rootSnapshot, prior []FileState) *Plan {
	p := &Plan{Retags: make(map[string]string)}

	priorByPath := make(map[string]FileState, len(prior))
	for _, fs := range prior {
		priorByPath[fs.Path] = fs
	}

	present := make(map[string]bool)

	for _, rs := range roots {
		for _, f := range rs.Files {
			if present[f.Path] {
				continue
			}

			present[f.Path] = true

			old, known := priorByPath[f.Path]

			switch {
			case !known || !sameVersion(old, f.ModifiedAt, f.Size):
				p.Ops = append(p.Ops, Op{Kind: OpRegister, Path: f.Path, Root: rs.Root, File: f})
			default:
				p.Unchanged++

				if old.Root != rs.Root {
					p.Retags[f.Path] = rs.Root
				}
			}
		}
	}

	for _, fs := range prior {
		if !present[fs.Path] {
			p.Ops = append(p.Ops, Op{Kind: OpDelete, Path: fs.Path, Root: fs.Root})
		}
	}

	slices.SortStableFunc(p.Ops, func(a, b Op) int { return strings.Compare(a.Path, b.Path) })

	return p
}

// counts returns the number of planned registers and deletes.
func (p *Plan) counts() (registers, deletes int) {
	for _, op := range p.Ops {
		if op.Kind == OpRegister {
			registers++
		} else {
			deletes++
		}
	}

	return registers, deletes
}
