package resourcekit

import (
	"errors"
	"fmt"
	"regexp"
	"testing"
)

func takenSet(names ...string) func(string) (bool, error) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return func(candidate string) (bool, error) { return set[candidate], nil }
}

func numbered(body, ext string, upto int) []string {
	names := []string{body + ext}
	for i := 1; i <= upto; i++ {
		names = append(names, fmt.Sprintf("%s_%02d%s", body, i, ext))
	}
	return names
}

func TestUniqueName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		taken []string
		want  string
	}{
		{name: "free name is kept", input: "x.txt", want: "x.txt"},
		{name: "first number", input: "x.txt", taken: []string{"x.txt"}, want: "x_01.txt"},
		{name: "skips taken numbers", input: "x.txt", taken: []string{"x.txt", "x_01.txt", "x_02.txt"}, want: "x_03.txt"},
		{name: "existing number is stripped", input: "x_07.txt", taken: []string{"x_07.txt"}, want: "x_01.txt"},
		{name: "no extension", input: "README", taken: []string{"README"}, want: "README_01"},
		{name: "only the last extension counts", input: "a.tar.gz", taken: []string{"a.tar.gz"}, want: "a.tar_01.gz"},
		{name: "three digit suffix is not stripped", input: "x_100.txt", taken: []string{"x_100.txt"}, want: "x_100_01.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := uniqueName(tt.input, takenSet(tt.taken...))
			if err != nil {
				t.Fatalf("uniqueName() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("uniqueName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestUniqueNameRandomSuffix(t *testing.T) {
	got, err := uniqueName("photo.jpg", takenSet(numbered("photo", ".jpg", 99)...))
	if err != nil {
		t.Fatalf("uniqueName() error = %v", err)
	}
	if !regexp.MustCompile(`^photo_[0-9a-f]{6}\.jpg$`).MatchString(got) {
		t.Errorf("uniqueName() = %q, want photo_<6 hex>.jpg", got)
	}
}

func TestUniqueNameExhausted(t *testing.T) {
	_, err := uniqueName("x.txt", func(string) (bool, error) { return true, nil })
	if !IsOperationFailed(err) {
		t.Fatalf("uniqueName() error = %v, want operation failed", err)
	}
}

func TestUniqueNameLookupError(t *testing.T) {
	boom := errors.New("backend down")
	calls := 0
	_, err := uniqueName("x.txt", func(string) (bool, error) {
		calls++
		if calls == 2 {
			return false, boom
		}
		return true, nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("uniqueName() error = %v, want %v", err, boom)
	}
}
