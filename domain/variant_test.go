package domain

import (
	"reflect"
	"strings"
	"testing"
)

func TestVariantIDRoundTrip(t *testing.T) {
	cases := []string{"char_002_amiya#1$1", "npc_001#12$3", "avg_npc#x#2$1"}
	for _, s := range cases {
		v, err := ParseVariantID(s)
		if err != nil {
			t.Fatalf("parse %q: %v", s, err)
		}
		if got := v.String(); got != s {
			t.Fatalf("round trip: got=%q want=%q", got, s)
		}
	}
	v, _ := ParseVariantID("avg_npc#x#2$1")
	if v.CharacterID != "avg_npc#x" || v.Face != 2 || v.Body != 1 {
		t.Fatalf("unexpected parse: %+v", v)
	}
}

func TestParseVariantIDRejectsBadInput(t *testing.T) {
	for _, s := range []string{"", "abc", "abc#1", "#1$1", "abc#0$1", "abc#1$0", "abc#a$1"} {
		if _, err := ParseVariantID(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestNormalizeVariants(t *testing.T) {
	got := NormalizeVariants("c1", []string{"c1#2$1", "c1#1$1", "c1#2$1", " "})
	want := []string{"c1#1$1", "c1#2$1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	if got := NormalizeVariants("c9", nil); !reflect.DeepEqual(got, []string{"c9#1$1"}) {
		t.Fatalf("fallback: got=%v", got)
	}
}

func TestProbeResultFlattenOrder(t *testing.T) {
	r := ProbeResult{
		"b": {"b#1$1"},
		"a": {"a#1$1", "a#2$1"},
	}
	got := r.Flatten()
	want := []string{"a#1$1", "a#2$1", "b#1$1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
}

func TestFileNameKeepsIDsApart(t *testing.T) {
	ids := []string{"avg/npc_001#1$1", "story/npc_001#1$1", "npc_001#1$1", "avg%2Fnpc_001#1$1", `avg\npc_001#1$1`}
	seen := map[string]string{}
	for _, id := range ids {
		name := FileName(id)
		if strings.ContainsAny(name, `/\`) {
			t.Fatalf("FileName(%q)=%q is not a single segment", id, name)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("%q and %q both map to %q", prev, id, name)
		}
		seen[name] = id
	}
	if got := FileName("op042#2$1"); got != "op042#2$1" {
		t.Fatalf("plain id changed: %q", got)
	}
}
