package cmd

import (
	"testing"

	"github.com/wegman-software/gsa-etl-go/internal/feed"
)

func TestSelectedKinds(t *testing.T) {
	tests := []struct {
		name    string
		flag    []string
		want    []feed.Kind
		wantErr bool
	}{
		{"default", nil, feed.Kinds, false},
		{"routing only", []string{"routing"}, []feed.Kind{feed.KindRouting}, false},
		{"unknown", []string{"buildings"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractKinds = tt.flag
			defer func() { extractKinds = nil }()

			got, err := selectedKinds()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("kinds = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("kinds = %v, want %v", got, tt.want)
				}
			}
		})
	}
}
