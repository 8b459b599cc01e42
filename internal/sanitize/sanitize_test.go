package sanitize

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		prompt string
		want   string
	}{
		{
			name:  "plain answer upper-cased",
			input: "scratch 'n' sniff menu",
			want:  "SCRATCH 'N' SNIFF MENU",
		},
		{
			name:  "rejected on colon",
			input: "Answer: desk butt",
			want:  "",
		},
		{
			name:  "rejected on semicolon",
			input: "desk; butt",
			want:  "",
		},
		{
			name:  "clipped at exclamation",
			input: "DESK BUTT! And more text",
			want:  "DESK BUTT",
		},
		{
			name:  "odd quotes rejected",
			input: `He said "desk butt`,
			want:  "",
		},
		{
			name:  "even quotes kept interior",
			input: `the "desk butt" maneuver`,
			want:  `THE "DESK BUTT" MANEUVER`,
		},
		{
			name:  "matched end quotes trimmed",
			input: `"desk butt"`,
			want:  "DESK BUTT",
		},
		{
			name:  "formatting stripped",
			input: "desk\nbutt...[sic]\t",
			want:  "DESKBUTTSIC",
		},
		{
			name:  "end punctuation trimmed and spaces collapsed",
			input: " desk  butt., ",
			want:  "DESK BUTT",
		},
		{
			name:   "no overlap with prompt tail",
			input:  "MIDDLE SCHOOL BULLY",
			prompt: "The worst thing to throw into the mouth of a volcano _______.",
			want:   "MIDDLE SCHOOL BULLY",
		},
		{
			name:   "duplicated prompt tail removed",
			input:  "art exhibit",
			prompt: "You fall asleep at the _______ exhibit.",
			want:   "ART",
		},
		{
			name:   "multi-word prompt tail removed",
			input:  "a trained attack goose at the door",
			prompt: "Every bank should have a _______ at the door.",
			want:   "A TRAINED ATTACK GOOSE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.input, tt.prompt); got != tt.want {
				t.Fatalf("Clean(%q, %q) = %q, want %q", tt.input, tt.prompt, got, tt.want)
			}
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		"DESK BUTT",
		"SCRATCH 'N' SNIFF MENU",
		`THE "DESK BUTT" MANEUVER`,
		"A TRAINED ATTACK GOOSE",
	}
	for _, input := range inputs {
		once := Clean(input, "")
		twice := Clean(once, "")
		if once != twice {
			t.Fatalf("Clean not idempotent on %q: %q then %q", input, once, twice)
		}
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML("In 2016, <i>KFC</i> announced&nbsp;a _______.")
	want := "In 2016, KFC announced a _______."
	if got != want {
		t.Fatalf("StripHTML = %q, want %q", got, want)
	}
}
