package config

import "testing"

func TestParseICEServersJSON(t *testing.T) {
	raw := `[
		{"urls": "stun:stun.example.com:3478"},
		{"urls": ["turn:turn.example.com:3478"], "username": "u", "credential": "c"}
	]`
	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if servers[0].URLs[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun server: %#v", servers[0])
	}
	if servers[1].Username != "u" || servers[1].Credential != "c" {
		t.Fatalf("unexpected turn server: %#v", servers[1])
	}
}

func TestParseICEServersJSON_TurnRequiresCredentials(t *testing.T) {
	raw := `[{"urls": ["turn:turn.example.com:3478"]}]`
	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseICEServersJSON_RejectsUnknownScheme(t *testing.T) {
	raw := `[{"urls": ["http://example.com"]}]`
	if _, err := ParseICEServersJSON(raw); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example.com:3478, stun:b.example.com:3478",
		"turn:t.example.com:3478",
		"user",
		"pass",
	)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("got %d servers", len(servers))
	}
	if len(servers[0].URLs) != 2 {
		t.Fatalf("stun urls = %v", servers[0].URLs)
	}
	if servers[1].Username != "user" {
		t.Fatalf("turn username = %q", servers[1].Username)
	}
}

func TestParseICEServersFromConvenienceEnv_TurnWithoutCreds(t *testing.T) {
	if _, err := ParseICEServersFromConvenienceEnv("", "turn:t.example.com:3478", "", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseICEServersFromValues_DefaultsToPublicSTUN(t *testing.T) {
	servers, err := parseICEServersFromValues("", "", "", "", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("unexpected fallback: %#v", servers)
	}
}
