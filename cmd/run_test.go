package cmd

import "testing"

func TestValidatePipeline_Valid(t *testing.T) {
	for _, p := range []string{"r", "rs", "rsp", "sp", "p"} {
		if err := validatePipeline([]rune(p)); err != nil {
			t.Errorf("validatePipeline(%q) = %v", p, err)
		}
	}
}

func TestValidatePipeline_Invalid(t *testing.T) {
	for _, p := range []string{"", "x", "rm", "sr", "rr", "psr"} {
		if err := validatePipeline([]rune(p)); err == nil {
			t.Errorf("validatePipeline(%q) should fail", p)
		}
	}
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	if err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func TestCheckArg_CheckpointVerbsNeedAnID(t *testing.T) {
	for _, verb := range []string{"j", "e", "d", "s", "g"} {
		if err := checkArg(verb, ""); err == nil {
			t.Errorf("checkArg(%q, \"\") should fail", verb)
		}
		if err := checkArg(verb, "12"); err != nil {
			t.Errorf("checkArg(%q, \"12\") = %v", verb, err)
		}
	}
	for _, verb := range []string{"", "p", "m", "r", "q"} {
		if err := checkArg(verb, ""); err != nil {
			t.Errorf("checkArg(%q, \"\") = %v", verb, err)
		}
	}
}
