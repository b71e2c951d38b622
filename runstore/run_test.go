package runstore

import (
	"testing"
	"time"
)

func TestRun_Validate(t *testing.T) {
	run := Run{ID: "r1", ExperimentID: "e1", Status: StatusRunning}
	if err := run.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	missingID := run
	missingID.ID = "  "
	if err := missingID.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank id")
	}

	missingExp := run
	missingExp.ExperimentID = ""
	if err := missingExp.Validate(); err == nil {
		t.Fatalf("Validate() expected error for blank experiment id")
	}
}

func TestRun_CloneIsDeep(t *testing.T) {
	ended := time.Now()
	run := Run{
		ID:           "r1",
		ExperimentID: "e1",
		Status:       StatusFinished,
		EndedAt:      &ended,
		Tags:         map[string]string{"k": "v"},
		Params:       map[string]string{"p": "1"},
		Metrics:      map[string][]Metric{"m": {{Value: 1, Step: 0}}},
	}
	clone := run.Clone()
	clone.Tags["k"] = "changed"
	clone.Params["p"] = "2"
	clone.Metrics["m"][0].Value = 9
	*clone.EndedAt = ended.Add(time.Hour)

	if run.Tags["k"] != "v" || run.Params["p"] != "1" {
		t.Fatalf("Clone() shares tag or param maps")
	}
	if run.Metrics["m"][0].Value != 1 {
		t.Fatalf("Clone() shares metric slices")
	}
	if !run.EndedAt.Equal(ended) {
		t.Fatalf("Clone() shares EndedAt pointer")
	}
}

func TestRunStatus_Terminal(t *testing.T) {
	if StatusRunning.Terminal() {
		t.Fatalf("RUNNING reported terminal")
	}
	for _, s := range []RunStatus{StatusFinished, StatusFailed, StatusKilled} {
		if !s.Terminal() {
			t.Fatalf("%s not reported terminal", s)
		}
	}
}
