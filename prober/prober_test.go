package prober

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	"charassets/domain"
	"charassets/netx"
)

type fakeExister struct {
	mu     sync.Mutex
	exists map[string]bool
	calls  []string
}

func (f *fakeExister) ProbeExists(_ context.Context, url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	return f.exists[url]
}

func (f *fakeExister) called(substr string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

var testSources = []netx.AssetSource{
	{Name: "primary", Template: "https://primary.test/{file}.png"},
	{Name: "backup", Template: "https://backup.test/{file}.png"},
}

func url(source int, variant string) string {
	return testSources[source].URL(variant)
}

func TestProbeCharacterFindsVariantsAcrossSources(t *testing.T) {
	f := &fakeExister{exists: map[string]bool{
		url(0, "c1#1$1"): true,
		url(1, "c1#2$1"): true,
		url(0, "c1#2$2"): true,
	}}
	p := New(f, testSources, Options{SmartDetection: true}, nil)
	got := p.ProbeCharacter(context.Background(), "c1")
	want := []string{"c1#1$1", "c1#2$1", "c1#2$2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%v want=%v", got, want)
	}
	// primary hit stops the search for that variant
	if f.called(url(1, "c1#1$1")) {
		t.Fatalf("backup probed after primary hit")
	}
}

func TestProbeCharacterFallbackToBaseVariant(t *testing.T) {
	p := New(&fakeExister{}, testSources, Options{SmartDetection: true}, nil)
	got := p.ProbeCharacter(context.Background(), "ghost")
	if !reflect.DeepEqual(got, []string{"ghost#1$1"}) {
		t.Fatalf("got=%v", got)
	}
}

func TestEarlyExitAfterFullMissPastFaceTwo(t *testing.T) {
	f := &fakeExister{exists: map[string]bool{
		url(0, "c2#1$1"): true,
		url(0, "c2#2$1"): true,
		// face 3 misses everywhere; face 4 exists but must never be probed
		url(0, "c2#4$1"): true,
	}}
	p := New(f, testSources, Options{SmartDetection: true}, nil)
	got := p.ProbeCharacter(context.Background(), "c2")
	if !reflect.DeepEqual(got, []string{"c2#1$1", "c2#2$1"}) {
		t.Fatalf("got=%v", got)
	}
	for face := 4; face <= SmartMaxFace; face++ {
		if f.called(fmt.Sprintf("c2%%23%d$", face)) {
			t.Fatalf("face %d probed after early exit", face)
		}
	}
	if f.called("c2%233$2") {
		t.Fatalf("body loop continued after miss")
	}
}

func TestNoEarlyExitWithinFirstTwoFaces(t *testing.T) {
	f := &fakeExister{exists: map[string]bool{
		url(0, "c3#2$1"): true,
		url(0, "c3#3$1"): true,
	}}
	p := New(f, testSources, Options{SmartDetection: false}, nil)
	got := p.ProbeCharacter(context.Background(), "c3")
	if !reflect.DeepEqual(got, []string{"c3#2$1", "c3#3$1"}) {
		t.Fatalf("got=%v", got)
	}
	if !f.called("c3%234$1") {
		t.Fatalf("face 4 should be probed after a face 3 hit")
	}
	if f.called("c3%231$2") {
		t.Fatalf("basic mode must not probe body 2")
	}
}

func TestBasicModeBounds(t *testing.T) {
	exists := map[string]bool{}
	for face := 1; face <= 10; face++ {
		exists[url(0, domain.NewVariantID("c4", face, 1).String())] = true
	}
	p := New(&fakeExister{exists: exists}, testSources, Options{}, nil)
	got := p.ProbeCharacter(context.Background(), "c4")
	if len(got) != BasicMaxFace {
		t.Fatalf("basic mode found %d variants, want %d: %v", len(got), BasicMaxFace, got)
	}
}

func TestRunPartitionsAndMerges(t *testing.T) {
	exists := map[string]bool{}
	var cands []domain.CharacterCandidate
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("char_%03d", i)
		cands = append(cands, domain.CharacterCandidate{ID: id})
		if i%2 == 0 {
			exists[url(0, id+"#1$1")] = true
			exists[url(1, id+"#2$1")] = true
		}
	}
	cands = append(cands, domain.CharacterCandidate{ID: "char_000"}, domain.CharacterCandidate{ID: " "})

	p := New(&fakeExister{exists: exists}, testSources, Options{SmartDetection: true, Workers: 4}, nil)
	res := p.Run(context.Background(), cands)
	if len(res) != 25 {
		t.Fatalf("got %d characters, want 25", len(res))
	}
	for id, variants := range res {
		if len(variants) == 0 {
			t.Fatalf("%s: empty variant list", id)
		}
		if !sort.StringsAreSorted(variants) {
			t.Fatalf("%s: unsorted %v", id, variants)
		}
		seen := map[string]bool{}
		for _, v := range variants {
			if seen[v] {
				t.Fatalf("%s: duplicate %s", id, v)
			}
			seen[v] = true
		}
	}
	if !reflect.DeepEqual(res["char_002"], []string{"char_002#1$1", "char_002#2$1"}) {
		t.Fatalf("char_002: %v", res["char_002"])
	}
	if !reflect.DeepEqual(res["char_001"], []string{"char_001#1$1"}) {
		t.Fatalf("char_001: %v", res["char_001"])
	}
}

func TestPartitionIsDisjoint(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	parts := partition(ids, 2)
	var all []string
	for _, p := range parts {
		all = append(all, p...)
	}
	sort.Strings(all)
	if !reflect.DeepEqual(all, ids) {
		t.Fatalf("partition lost or duplicated ids: %v", parts)
	}
}
