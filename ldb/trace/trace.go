package trace

import "sync"

// Level controls the verbosity of decision tracing.
type Level string

const (
	// LevelNone disables tracing.
	LevelNone Level = "none"
	// LevelSteps captures one record per balancing step.
	LevelSteps Level = "steps"
	// LevelDecisions also captures every migration and switch.
	LevelDecisions Level = "decisions"
)

var validLevels = map[Level]bool{
	LevelNone:      true,
	LevelSteps:     true,
	LevelDecisions: true,
	"":             true, // empty defaults to none
}

// IsValidLevel returns true if level is a recognized trace level.
func IsValidLevel(level string) bool {
	return validLevels[Level(level)]
}

// Trace collects decision records during a run.
type Trace struct {
	Level Level

	mu         sync.Mutex
	Steps      []StepRecord
	Migrations []MigrationRecord
	Switches   []SwitchRecord
}

// New creates a Trace ready for recording.
func New(level Level) *Trace {
	return &Trace{
		Level:      level,
		Steps:      make([]StepRecord, 0),
		Migrations: make([]MigrationRecord, 0),
		Switches:   make([]SwitchRecord, 0),
	}
}

func (t *Trace) enabled(min Level) bool {
	if t == nil {
		return false
	}
	switch t.Level {
	case LevelDecisions:
		return true
	case LevelSteps:
		return min == LevelSteps
	}
	return false
}

// RecordStep appends a step record. No-op on a nil Trace or LevelNone.
func (t *Trace) RecordStep(r StepRecord) {
	if !t.enabled(LevelSteps) {
		return
	}
	t.mu.Lock()
	t.Steps = append(t.Steps, r)
	t.mu.Unlock()
}

// RecordMigration appends a migration record at LevelDecisions.
func (t *Trace) RecordMigration(r MigrationRecord) {
	if !t.enabled(LevelDecisions) {
		return
	}
	t.mu.Lock()
	t.Migrations = append(t.Migrations, r)
	t.mu.Unlock()
}

// RecordSwitch appends a switch record at LevelDecisions.
func (t *Trace) RecordSwitch(r SwitchRecord) {
	if !t.enabled(LevelDecisions) {
		return
	}
	t.mu.Lock()
	t.Switches = append(t.Switches, r)
	t.mu.Unlock()
}
