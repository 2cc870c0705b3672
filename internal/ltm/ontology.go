package ltm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xiy/tiermem/pkg/types"
)

// Fixed ontology vocabulary. Memory items map onto these classes; anything
// outside the table falls back to Fact. Class names never come from input.
const (
	classFact           = "mem:Fact"
	classClaim          = "mem:Claim"
	classDerivedFact    = "mem:DerivedFact"
	classPlanStepFact   = "mem:PlanStepFact"
	classUserPreference = "mem:UserPreference"
	classWorkSession    = "mem:WorkSession"
)

const (
	predType          = "rdf:type"
	predSourceSession = "mem:sourceSession"
	predMemoryID      = "mem:memoryId"
	predImportance    = "mem:importance"
	predPayload       = "mem:payload"
	predCreatedAt     = "mem:createdAt"
	predUpdatedAt     = "mem:updatedAt"
)

// classForType maps a memory type onto its ontology class. Both decision and
// analysis land on PlanStepFact; the alias is backend-specific storage
// mapping, not a universal type coercion.
func classForType(t types.MemoryType) string {
	switch t {
	case types.TypeFact:
		return classFact
	case types.TypeClaim:
		return classClaim
	case types.TypeDerivedFact:
		return classDerivedFact
	case types.TypeDecision, types.TypeAnalysis:
		return classPlanStepFact
	case types.TypeUserPreference:
		return classUserPreference
	default:
		return classFact
	}
}

// typeForClass reports the memory type read back from a class. PlanStepFact
// items surface as decision regardless of how they went in.
func typeForClass(class string) types.MemoryType {
	switch class {
	case classClaim:
		return types.TypeClaim
	case classDerivedFact:
		return types.TypeDerivedFact
	case classPlanStepFact:
		return types.TypeDecision
	case classUserPreference:
		return types.TypeUserPreference
	default:
		return types.TypeFact
	}
}

func itemSubject(sessionID, id string) string {
	return "mem:item/" + sessionID + "/" + id
}

func sessionSubject(sessionID string) string {
	return "mem:session/" + sessionID
}

// toQuads renders an item as graph statements, including the sourceSession
// link to the per-session WorkSession individual. Scalar values are
// normalized to string literals on the way out.
func toQuads(item types.MemoryItem) ([]Quad, error) {
	payload, err := json.Marshal(item.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	subject := itemSubject(item.SessionID, item.ID)
	return []Quad{
		{Subject: subject, Predicate: predType, Object: classForType(item.Type)},
		{Subject: subject, Predicate: predMemoryID, Object: item.ID, Literal: true},
		{Subject: subject, Predicate: predSourceSession, Object: sessionSubject(item.SessionID)},
		{Subject: subject, Predicate: predImportance, Object: strconv.FormatFloat(item.Importance, 'f', -1, 64), Literal: true},
		{Subject: subject, Predicate: predPayload, Object: string(payload), Literal: true},
		{Subject: subject, Predicate: predCreatedAt, Object: item.CreatedAt.UTC().Format(time.RFC3339Nano), Literal: true},
		{Subject: subject, Predicate: predUpdatedAt, Object: item.UpdatedAt.UTC().Format(time.RFC3339Nano), Literal: true},
	}, nil
}

// fromQuads reconstructs an item from its statements, parsing string
// literals back into their native types.
func fromQuads(sessionID string, quads []Quad) (types.MemoryItem, error) {
	item := types.MemoryItem{SessionID: sessionID}
	for _, q := range quads {
		switch q.Predicate {
		case predType:
			item.Type = typeForClass(q.Object)
		case predMemoryID:
			item.ID = q.Object
		case predImportance:
			imp, err := strconv.ParseFloat(q.Object, 64)
			if err != nil {
				return item, fmt.Errorf("parse importance literal: %w", err)
			}
			item.Importance = imp
		case predPayload:
			if err := json.Unmarshal([]byte(q.Object), &item.Data); err != nil {
				return item, fmt.Errorf("unmarshal payload literal: %w", err)
			}
		case predCreatedAt:
			t, err := time.Parse(time.RFC3339Nano, q.Object)
			if err != nil {
				return item, fmt.Errorf("parse createdAt literal: %w", err)
			}
			item.CreatedAt = t
		case predUpdatedAt:
			t, err := time.Parse(time.RFC3339Nano, q.Object)
			if err != nil {
				return item, fmt.Errorf("parse updatedAt literal: %w", err)
			}
			item.UpdatedAt = t
		}
	}
	if item.ID == "" {
		return item, ErrNotFound
	}
	return item, nil
}
