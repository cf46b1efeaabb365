// Package types defines the core data structures for the memory lifecycle
// engine: memories, entities, relationships, and the durable bookkeeping
// records (consolidation queue, retrieval log, strategy weights, evolution
// state) that drive background evolution passes.
package types

// MemoryType classifies the nature of a memory.
type MemoryType string

// Scope is the hierarchy level a record belongs to.
type Scope string

// Status is the lifecycle status of a memory.
type Status string

// Memory type constants
const (
	// MemoryTypeEpisodic records a single event or observation.
	MemoryTypeEpisodic MemoryType = "episodic"

	// MemoryTypeSemantic records distilled knowledge, typically produced
	// by consolidating episodic memories.
	MemoryTypeSemantic MemoryType = "semantic"

	// MemoryTypeProcedural records how to do something.
	MemoryTypeProcedural MemoryType = "procedural"

	// MemoryTypeWorking records short-lived in-session context.
	MemoryTypeWorking MemoryType = "working"
)

// Scope constants - session is ephemeral, project is durable per-project,
// user is durable across projects.
const (
	ScopeSession Scope = "session"
	ScopeProject Scope = "project"
	ScopeUser    Scope = "user"
)

// Memory status constants. Statuses move forward only; see
// IsValidStatusTransition.
const (
	// StatusCreated indicates a memory stored but never accessed.
	StatusCreated Status = "created"

	// StatusActive indicates a memory that has been accessed at least once.
	StatusActive Status = "active"

	// StatusConsolidated indicates a memory absorbed into a higher-level
	// semantic memory or merged during promotion.
	StatusConsolidated Status = "consolidated"

	// StatusArchived indicates a weak, rarely used memory kept for history.
	StatusArchived Status = "archived"

	// StatusForgotten is terminal: content and embedding are cleared,
	// the record itself is retained for auditability.
	StatusForgotten Status = "forgotten"
)

// ValidMemoryTypes is a slice of all valid memory types for validation.
var ValidMemoryTypes = []MemoryType{
	MemoryTypeEpisodic,
	MemoryTypeSemantic,
	MemoryTypeProcedural,
	MemoryTypeWorking,
}

// ValidScopes is a slice of all valid scopes for validation.
var ValidScopes = []Scope{ScopeSession, ScopeProject, ScopeUser}

// ValidStatuses is a slice of all valid statuses for validation.
var ValidStatuses = []Status{
	StatusCreated,
	StatusActive,
	StatusConsolidated,
	StatusArchived,
	StatusForgotten,
}

// IsValidMemoryType checks if the given memory type is valid.
func IsValidMemoryType(t MemoryType) bool {
	for _, valid := range ValidMemoryTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// IsValidScope checks if the given scope is valid.
func IsValidScope(s Scope) bool {
	for _, valid := range ValidScopes {
		if valid == s {
			return true
		}
	}
	return false
}

// IsValidStatus checks if the given status is valid.
func IsValidStatus(s Status) bool {
	for _, valid := range ValidStatuses {
		if valid == s {
			return true
		}
	}
	return false
}

// Relationship type constants for the knowledge graph.
const (
	RelCauses      = "causes"
	RelContradicts = "contradicts"
	RelUses        = "uses"
	RelReplaces    = "replaces"
	RelEnables     = "enables"
	RelPrevents    = "prevents"
	RelDependsOn   = "depends_on"
	RelSupersedes  = "supersedes"
	RelPartOf      = "part_of"
	RelRelatesTo   = "relates_to"
)

// ValidRelationshipTypes is a slice of all valid relationship types.
var ValidRelationshipTypes = []string{
	RelCauses,
	RelContradicts,
	RelUses,
	RelReplaces,
	RelEnables,
	RelPrevents,
	RelDependsOn,
	RelSupersedes,
	RelPartOf,
	RelRelatesTo,
}

// IsValidRelationshipType checks if the given relationship type is valid.
func IsValidRelationshipType(relType string) bool {
	for _, valid := range ValidRelationshipTypes {
		if valid == relType {
			return true
		}
	}
	return false
}

// opposingRelations maps relation types that semantically conflict when both
// connect the same entity pair. The table is symmetric.
var opposingRelations = map[string]string{
	RelCauses:     RelContradicts,
	RelUses:       RelReplaces,
	RelEnables:    RelPrevents,
	RelSupersedes: RelDependsOn,
}

// AreOpposingRelations reports whether two relation types conflict with each
// other when asserted between the same entity pair.
func AreOpposingRelations(a, b string) bool {
	if opposingRelations[a] == b {
		return true
	}
	if opposingRelations[b] == a {
		return true
	}
	return false
}
