package trace

import "testing"

func TestTrace_LevelDecisions_RecordsEverything(t *testing.T) {
	// GIVEN a trace at decisions level
	tr := New(LevelDecisions)

	// WHEN one of each record is added
	tr.RecordStep(StepRecord{Step: 1, Strategy: "TreeLB"})
	tr.RecordMigration(MigrationRecord{Step: 1, Strategy: "TreeLB", Object: 7, From: 0, To: 2})
	tr.RecordSwitch(SwitchRecord{Step: 1, From: 0, To: 1, Target: "Greedy", Applied: true})

	// THEN all three are kept
	if len(tr.Steps) != 1 || len(tr.Migrations) != 1 || len(tr.Switches) != 1 {
		t.Fatalf("expected 1/1/1 records, got %d/%d/%d", len(tr.Steps), len(tr.Migrations), len(tr.Switches))
	}
	if tr.Migrations[0].Object != 7 {
		t.Errorf("expected object 7, got %d", tr.Migrations[0].Object)
	}
}

func TestTrace_LevelSteps_DropsDecisions(t *testing.T) {
	tr := New(LevelSteps)

	tr.RecordStep(StepRecord{Step: 1})
	tr.RecordMigration(MigrationRecord{Step: 1})
	tr.RecordSwitch(SwitchRecord{Step: 1})

	if len(tr.Steps) != 1 {
		t.Errorf("expected 1 step, got %d", len(tr.Steps))
	}
	if len(tr.Migrations) != 0 || len(tr.Switches) != 0 {
		t.Error("expected migrations and switches to be dropped")
	}
}

func TestTrace_NilAndNone_AreNoOps(t *testing.T) {
	var nilTrace *Trace
	nilTrace.RecordStep(StepRecord{})
	nilTrace.RecordMigration(MigrationRecord{})

	tr := New(LevelNone)
	tr.RecordStep(StepRecord{})
	if len(tr.Steps) != 0 {
		t.Error("expected no records at level none")
	}
}

func TestIsValidLevel(t *testing.T) {
	for _, l := range []string{"", "none", "steps", "decisions"} {
		if !IsValidLevel(l) {
			t.Errorf("expected %q to be valid", l)
		}
	}
	if IsValidLevel("verbose") {
		t.Error("expected verbose to be invalid")
	}
}
