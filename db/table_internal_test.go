package db

import "testing"

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Username":   "username",
		"LoginCount": "login_count",
		"UserID":     "user_id",
		"HTTPAddr":   "http_addr",
		"Value64":    "value64",
	}

	for in, expected := range cases {
		if got := snakeCase(in); got != expected {
			t.Errorf("snakeCase(%q) = %q, expected %q", in, got, expected)
		}
	}
}
