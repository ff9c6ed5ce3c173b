package ml

import (
	"path/filepath"
	"testing"

	"github.com/codeaudit/ml-1/crf"
)

func trainToy(t *testing.T) *Tagger {
	t.Helper()
	corpus := []crf.LabeledSequence{
		{
			Features: []map[string]float64{
				{"word=the": 1.0, "bias": 1.0},
				{"word=cat": 1.0, "bias": 1.0},
			},
			Labels: []string{"DET", "NOUN"},
		},
		{
			Features: []map[string]float64{
				{"word=a": 1.0, "bias": 1.0},
				{"word=dog": 1.0, "bias": 1.0},
			},
			Labels: []string{"DET", "NOUN"},
		},
	}
	config := crf.DefaultTrainerConfig()
	config.MaxIterations = 30
	config.Workers = 1
	tagger, err := Train(corpus, config)
	if err != nil {
		t.Fatal(err)
	}
	return tagger
}

func TestTagStripsSentinels(t *testing.T) {
	tagger := trainToy(t)
	labels, err := tagger.Tag([]map[string]float64{
		{"word=the": 1.0, "bias": 1.0},
		{"word=dog": 1.0, "bias": 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 2 {
		t.Fatalf("labels = %v, want one label per observation", labels)
	}
	for _, l := range labels {
		if l == crf.StartState || l == crf.StopState {
			t.Errorf("sentinel %q leaked into tags %v", l, labels)
		}
	}
}

func TestSaveLoadTag(t *testing.T) {
	tagger := trainToy(t)
	path := filepath.Join(t.TempDir(), "model.json")
	if err := tagger.Save(path); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	input := []map[string]float64{
		{"word=a": 1.0, "bias": 1.0},
		{"word=cat": 1.0, "bias": 1.0},
	}
	want, err := tagger.Tag(input)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Tag(input)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded tags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("loaded tags = %v, want %v", got, want)
			break
		}
	}
}

func TestMaxTokenMode(t *testing.T) {
	tagger := trainToy(t)
	tagger.SetInferenceMode(crf.MaxToken)
	labels, err := tagger.Tag([]map[string]float64{
		{"word=the": 1.0, "bias": 1.0},
		{"word=cat": 1.0, "bias": 1.0},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(labels) != 2 {
		t.Fatalf("labels = %v, want 2", labels)
	}
}

func TestLoadMissingModel(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("missing model loaded without error")
	}
}
