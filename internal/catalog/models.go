package catalog

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONField stores an arbitrary JSON document in a single column, used
// for the variable-shape parts of a class descriptor (ranges, flows)
// that don't warrant their own normalized tables.
type JSONField []byte

func (j JSONField) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

func (j *JSONField) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = []byte(v)
		return nil
	default:
		return errors.New("catalog: unsupported type for JSONField")
	}
}

func (j JSONField) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONField) UnmarshalJSON(data []byte) error {
	if data == nil || string(data) == "null" {
		*j = nil
		return nil
	}
	*j = append((*j)[0:0], data...)
	return nil
}

// RangeDescriptor is the JSON-serializable form of taskclass.Range: a
// class descriptor persists bound *shapes* (constant bounds, or a
// textual note that a bound is runtime-computed), not executable Expr
// closures — a reloaded descriptor is data a translator re-hydrates into
// live taskclass.Range values, never a Go value by itself.
type RangeDescriptor struct {
	MinConst *int32 `json:"min_const,omitempty"`
	MaxConst *int32 `json:"max_const,omitempty"`
	IncConst *int32 `json:"inc_const,omitempty"`
	Dynamic  bool   `json:"dynamic,omitempty"`
}

// FlowDescriptor is the JSON-serializable shape of a taskclass.Flow: name,
// kind, and the destination class names its out-deps target (dependency
// Guard/DestLocals closures are translator-owned and not persisted).
type FlowDescriptor struct {
	Name    string   `json:"name"`
	Kind    int      `json:"kind"`
	OutDeps []string `json:"out_deps,omitempty"` // destination class names
}

// ClassRecord is the `task_classes` table: the persisted, reloadable
// half of a taskclass.Class.
type ClassRecord struct {
	ID               uint32    `gorm:"column:id;primaryKey"`
	Name             string    `gorm:"column:name;type:varchar(128);uniqueIndex"`
	NumLocal         int       `gorm:"column:num_local"`
	Ranges           JSONField `gorm:"column:ranges;type:json"`
	Flows            JSONField `gorm:"column:flows;type:json"`
	Flags            uint32    `gorm:"column:flags"`
	DependenciesGoal uint32    `gorm:"column:dependencies_goal"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ClassRecord) TableName() string { return "task_classes" }

// Descriptor is the catalog's public, JSON-friendly view of a
// ClassRecord — what Register accepts and Get/List return.
type Descriptor struct {
	ID               uint32
	Name             string
	NumLocal         int
	Ranges           []RangeDescriptor
	Flows            []FlowDescriptor
	Flags            uint32
	DependenciesGoal uint32
}

func (d *Descriptor) toRecord() (*ClassRecord, error) {
	ranges, err := json.Marshal(d.Ranges)
	if err != nil {
		return nil, err
	}
	flows, err := json.Marshal(d.Flows)
	if err != nil {
		return nil, err
	}
	return &ClassRecord{
		ID:               d.ID,
		Name:             d.Name,
		NumLocal:         d.NumLocal,
		Ranges:           JSONField(ranges),
		Flows:            JSONField(flows),
		Flags:            d.Flags,
		DependenciesGoal: d.DependenciesGoal,
	}, nil
}

func (r *ClassRecord) toDescriptor() (*Descriptor, error) {
	d := &Descriptor{
		ID:               r.ID,
		Name:             r.Name,
		NumLocal:         r.NumLocal,
		Flags:            r.Flags,
		DependenciesGoal: r.DependenciesGoal,
	}
	if r.Ranges != nil {
		if err := json.Unmarshal(r.Ranges, &d.Ranges); err != nil {
			return nil, err
		}
	}
	if r.Flows != nil {
		if err := json.Unmarshal(r.Flows, &d.Flows); err != nil {
			return nil, err
		}
	}
	return d, nil
}
