package model

import "fmt"

// NamespaceKind discriminates the tagged union of visibility scopes.
type NamespaceKind int

const (
	NamespaceGlobal NamespaceKind = iota
	NamespaceProject
	NamespaceSession
)

// Namespace is the visibility scope of a memory note: Global, Project, or
// Session. Global/Project/Session form a strict hierarchy — a Session
// namespace always names its owning Project.
type Namespace struct {
	Kind      NamespaceKind
	Project   string
	SessionID string
}

// Global returns the Global namespace.
func Global() Namespace {
	return Namespace{Kind: NamespaceGlobal}
}

// ProjectNS returns a Project namespace scoped to the given project name.
func ProjectNS(project string) Namespace {
	return Namespace{Kind: NamespaceProject, Project: project}
}

// SessionNS returns a Session namespace scoped to the given project and
// session ID.
func SessionNS(project, sessionID string) Namespace {
	return Namespace{Kind: NamespaceSession, Project: project, SessionID: sessionID}
}

// String renders the namespace as a canonical key used for storage and
// equality comparisons.
func (n Namespace) String() string {
	switch n.Kind {
	case NamespaceGlobal:
		return "global"
	case NamespaceProject:
		return fmt.Sprintf("project:%s", n.Project)
	case NamespaceSession:
		return fmt.Sprintf("session:%s:%s", n.Project, n.SessionID)
	default:
		return "unknown"
	}
}

// Equal reports whether two namespaces denote the same scope.
func (n Namespace) Equal(other Namespace) bool {
	return n.Kind == other.Kind && n.Project == other.Project && n.SessionID == other.SessionID
}

// IsZero reports whether n is the unset zero value. Global() is that same
// zero value, so IsZero is also true for Global; it cannot tell "no
// namespace filter supplied" apart from "filter to Global only".
func (n Namespace) IsZero() bool {
	return n.Kind == NamespaceGlobal && n.Project == "" && n.SessionID == ""
}

// ParseNamespace parses the canonical string form produced by String.
func ParseNamespace(s string) (Namespace, error) {
	if s == "" || s == "global" {
		return Global(), nil
	}
	var kind, rest string
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			kind = s[:i]
			rest = s[i+1:]
			break
		}
	}
	switch kind {
	case "project":
		return ProjectNS(rest), nil
	case "session":
		for i := 0; i < len(rest); i++ {
			if rest[i] == ':' {
				return SessionNS(rest[:i], rest[i+1:]), nil
			}
		}
		return Namespace{}, ValidationError("malformed session namespace: " + s)
	default:
		return Namespace{}, ValidationError("malformed namespace: " + s)
	}
}
