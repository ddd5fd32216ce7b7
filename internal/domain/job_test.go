package domain

import "testing"

func TestCostForKind(t *testing.T) {
	tests := []struct {
		kind JobKind
		want int
	}{
		{JobKindTTS, CostAudio},
		{JobKindSpeechToSpeech, CostAudio},
		{JobKindSoundEffect, CostAudio},
		{JobKindImage, CostImage},
	}
	for _, tc := range tests {
		if got := CostForKind(tc.kind); got != tc.want {
			t.Fatalf("CostForKind(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestJobTerminal(t *testing.T) {
	job := &Job{Status: JobStatusInProgress}
	if job.Terminal() {
		t.Fatal("in-progress job reported terminal")
	}
	job.Status = JobStatusCompleted
	if !job.Terminal() {
		t.Fatal("completed job not terminal")
	}
}

func TestVoiceAssetIsSystem(t *testing.T) {
	if !(&VoiceAsset{}).IsSystem() {
		t.Fatal("voice without owner should be a system voice")
	}
	if (&VoiceAsset{UserID: "user-1"}).IsSystem() {
		t.Fatal("owned voice misreported as system voice")
	}
}
