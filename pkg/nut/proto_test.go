package nut

import (
	"testing"
)

func TestQuoteToken(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare", in: "battery.voltage", want: "battery.voltage"},
		{name: "bare with colon", in: "host:3493", want: "host:3493"},
		{name: "space", in: "my ups", want: `"my ups"`},
		{name: "quote", in: `pa"ss`, want: `"pa\"ss"`},
		{name: "backslash", in: `a\b`, want: `"a\\b"`},
		{name: "empty", in: "", want: `""`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuoteToken(tt.in); got != tt.want {
				t.Errorf("QuoteToken(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseVarLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Variable
		wantErr bool
	}{
		{
			name: "simple",
			line: `VAR myups battery.charge "100"`,
			want: Variable{UPS: "myups", Name: "battery.charge", Value: "100"},
		},
		{
			name: "value with spaces",
			line: `VAR myups ups.test.result "No test initiated"`,
			want: Variable{UPS: "myups", Name: "ups.test.result", Value: "No test initiated"},
		},
		{
			name: "escaped quote",
			line: `VAR myups ups.model "CP\"1500\""`,
			want: Variable{UPS: "myups", Name: "ups.model", Value: `CP"1500"`},
		},
		{
			name: "escaped backslash",
			line: `VAR myups device.description "a\\b"`,
			want: Variable{UPS: "myups", Name: "device.description", Value: `a\b`},
		},
		{name: "not a var line", line: "ERR ACCESS-DENIED", wantErr: true},
		{name: "missing value", line: "VAR myups battery.charge", wantErr: true},
		{name: "unterminated value", line: `VAR myups battery.charge "100`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVarLine(tt.line)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseVarLine(%q) expected error, got %+v", tt.line, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseVarLine(%q) failed: %v", tt.line, err)
			}
			if got != tt.want {
				t.Errorf("ParseVarLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestVarLineRoundTrip(t *testing.T) {
	values := []string{
		"100",
		"230.1 V",
		`with "quotes"`,
		`back\slash`,
		`both \" mixed \\`,
		"",
	}
	for _, val := range values {
		v := Variable{UPS: "ups1", Name: "some.var", Value: val}
		got, err := ParseVarLine(FormatVarLine(v))
		if err != nil {
			t.Fatalf("round trip of %q failed: %v", val, err)
		}
		if got != v {
			t.Errorf("round trip of %q = %+v, want %+v", val, got, v)
		}
	}
}

func TestValidUPSName(t *testing.T) {
	valid := []string{"myups", "UPS-1", "a"}
	invalid := []string{"", "my ups", "ups.1", "ups/1"}
	for _, n := range valid {
		if !ValidUPSName(n) {
			t.Errorf("ValidUPSName(%q) = false, want true", n)
		}
	}
	for _, n := range invalid {
		if ValidUPSName(n) {
			t.Errorf("ValidUPSName(%q) = true, want false", n)
		}
	}
}
