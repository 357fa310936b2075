package heuristic

import (
	"testing"
)

func TestNewEngineThresholds(t *testing.T) {
	cases := []struct {
		sensitivity string
		want        int
	}{
		{"low", 60},
		{"medium", 40},
		{"high", 25},
		{"paranoid", 15},
		{"LOW", 60},
		{"bogus", 40},
	}
	for _, tc := range cases {
		e := NewEngine(true, tc.sensitivity)
		if e.Threshold() != tc.want {
			t.Errorf("sensitivity %q: threshold %d, want %d", tc.sensitivity, e.Threshold(), tc.want)
		}
	}
}

func TestAnalyzeFileDisabled(t *testing.T) {
	path := writeSample(t, []byte("anything at all"))
	res := NewEngine(false, "paranoid").AnalyzeFile(path)
	if res.Enabled || res.IsSuspicious || res.TotalScore != 0 {
		t.Fatalf("disabled engine should be neutral: %+v", res)
	}
	if res.Confidence != "none" {
		t.Errorf("disabled engine confidence should be none, got %s", res.Confidence)
	}
}

func TestAnalyzeFileStringSignals(t *testing.T) {
	content := "fetch http://203.0.113.7/stage2 then 203.0.113.7\x00" +
		"keylog password stealer\x00ordinary readable filler text follows here"
	path := writeSample(t, []byte(content))

	res := NewEngine(true, "paranoid").AnalyzeFile(path)
	if !res.IsSuspicious {
		t.Fatalf("expected suspicion at paranoid sensitivity: %+v", res)
	}
	// Pattern classes contribute a flat score, keywords score per distinct hit.
	if res.StringScore < 20+3*5 {
		t.Errorf("string score too low: %d", res.StringScore)
	}
	if res.EntropyScore != 0 {
		t.Errorf("plain text should not add entropy score, got %d", res.EntropyScore)
	}
	if res.StructureScore != 0 {
		t.Errorf("non-PE file should not add structure score, got %d", res.StructureScore)
	}
	if res.Confidence == "none" {
		t.Error("flagged file should carry a confidence band")
	}
	if len(res.Detections) == 0 {
		t.Error("flagged file should carry detections")
	}
}

func TestAnalyzeFileSensitivityGates(t *testing.T) {
	content := "fetch http://203.0.113.7/stage2 then 203.0.113.7\x00" +
		"keylog password stealer\x00ordinary readable filler text follows here"
	path := writeSample(t, []byte(content))

	paranoid := NewEngine(true, "paranoid").AnalyzeFile(path)
	low := NewEngine(true, "low").AnalyzeFile(path)
	if paranoid.TotalScore != low.TotalScore {
		t.Fatalf("score must not depend on sensitivity: %d vs %d", paranoid.TotalScore, low.TotalScore)
	}
	if !paranoid.IsSuspicious {
		t.Error("paranoid should flag this score")
	}
	if low.IsSuspicious {
		t.Errorf("low sensitivity should not flag score %d", low.TotalScore)
	}
}

func TestAnalyzeFileScoreCap(t *testing.T) {
	content := "fetch http://203.0.113.7/x 203.0.113.7 HKEY_LOCAL_MACHINE\\Run C:\\evil\\path\x00" +
		"backdoor bitcoin cookie credential crypto encrypt hook inject keylog miner " +
		"password payload ransom rootkit shellcode stealer token trojan wallet"
	path := writeSample(t, []byte(content))

	got := NewEngine(true, "paranoid").AnalyzeFile(path)
	if got.TotalScore > 100 {
		t.Fatalf("score must cap at 100, got %d", got.TotalScore)
	}
	if !got.IsSuspicious || got.Confidence != "high" {
		t.Errorf("heavily loaded file should be high confidence: %+v", got)
	}
}
