package newsletter

import (
	"fmt"
	"strings"
	"time"
)

// EntityType is the closed set of node labels an entity may carry.
type EntityType int

const (
	EntityUnknown EntityType = iota
	EntityOrganization
	EntityPerson
	EntityProduct
	EntityEvent
	EntityLocation
	EntityTopic
)

// EntityTypes lists every valid type in display order.
var EntityTypes = []EntityType{
	EntityOrganization,
	EntityPerson,
	EntityProduct,
	EntityEvent,
	EntityLocation,
	EntityTopic,
}

var entityTypeLabels = map[EntityType]string{
	EntityOrganization: "Organization",
	EntityPerson:       "Person",
	EntityProduct:      "Product",
	EntityEvent:        "Event",
	EntityLocation:     "Location",
	EntityTopic:        "Topic",
}

// Label is the graph label. Only defined types have one, so it is safe to interpolate into Cypher.
func (t EntityType) Label() string {
	return entityTypeLabels[t]
}

func (t EntityType) String() string {
	if l := t.Label(); l != "" {
		return l
	}
	return "Unknown"
}

func (t EntityType) Valid() bool {
	_, ok := entityTypeLabels[t]
	return ok
}

// ParseEntityType matches labels case-insensitively.
func ParseEntityType(raw string) (EntityType, error) {
	s := strings.TrimSpace(raw)
	for t, label := range entityTypeLabels {
		if strings.EqualFold(label, s) {
			return t, nil
		}
	}
	return EntityUnknown, fmt.Errorf("unknown entity type %q", raw)
}

func (t EntityType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unknown entity type %d", int(t))
	}
	return []byte(t.Label()), nil
}

func (t *EntityType) UnmarshalText(b []byte) error {
	parsed, err := ParseEntityType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Candidate is an unvalidated entity guess from the extractor.
type Candidate struct {
	Name       string         `json:"name"`
	Type       EntityType     `json:"type"`
	RawType    string         `json:"-"`
	Aliases    []string       `json:"aliases,omitempty"`
	Confidence float64        `json:"confidence"`
	Context    string         `json:"context,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Entity struct {
	Name         string         `json:"name"`
	Type         EntityType     `json:"type"`
	Aliases      []string       `json:"aliases"`
	Confidence   float64        `json:"confidence"`
	MentionCount int64          `json:"mention_count"`
	CreatedAt    time.Time      `json:"created_at"`
	LastSeen     time.Time      `json:"last_seen"`
	Properties   map[string]any `json:"properties,omitempty"`
}

type Newsletter struct {
	ID            string    `json:"id"`
	Subject       string    `json:"subject"`
	Sender        string    `json:"sender"`
	ReceivedDate  time.Time `json:"received_date"`
	ContentLength int       `json:"content_length"`
	CreatedAt     time.Time `json:"created_at"`
}

type Mention struct {
	EntityName   string     `json:"entity_name"`
	EntityType   EntityType `json:"entity_type"`
	NewsletterID string     `json:"newsletter_id"`
	Date         time.Time  `json:"date"`
	Context      string     `json:"context,omitempty"`
}

type Operation string

const (
	OperationCreated Operation = "created"
	OperationUpdated Operation = "updated"
	OperationSkipped Operation = "skipped"
)

type UpsertResult struct {
	Entity    Entity    `json:"entity"`
	Operation Operation `json:"operation"`
	// Reason is set when Operation is OperationSkipped.
	Reason error `json:"-"`
}

// LinkResult reports whether a MENTIONED_IN edge was newly written.
type LinkResult struct {
	Created bool
}

// AliasMergePolicy decides what happens to aliases on repeat sightings.
type AliasMergePolicy string

const (
	AliasKeepFirst AliasMergePolicy = "keep_first"
	AliasUnion     AliasMergePolicy = "union"
)

func ParseAliasMergePolicy(raw string) (AliasMergePolicy, error) {
	switch AliasMergePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", AliasKeepFirst:
		return AliasKeepFirst, nil
	case AliasUnion:
		return AliasUnion, nil
	default:
		return "", fmt.Errorf("unknown alias merge policy %q", raw)
	}
}

type GraphStats struct {
	Organizations int64 `json:"organizations"`
	People        int64 `json:"people"`
	Products      int64 `json:"products"`
	Events        int64 `json:"events"`
	Locations     int64 `json:"locations"`
	Topics        int64 `json:"topics"`
	Newsletters   int64 `json:"newsletters"`
	Relationships int64 `json:"relationships"`
}

// Add increments the counter for t.
func (s *GraphStats) Add(t EntityType, n int64) {
	switch t {
	case EntityOrganization:
		s.Organizations += n
	case EntityPerson:
		s.People += n
	case EntityProduct:
		s.Products += n
	case EntityEvent:
		s.Events += n
	case EntityLocation:
		s.Locations += n
	case EntityTopic:
		s.Topics += n
	}
}

type SchemaReport struct {
	Applied []string `json:"applied"`
	Failed  []string `json:"failed"`
}
