package scenario

import (
	"strings"
	"testing"
)

const sampleScenario = `{
  "scenario_name": "subida_basica",
  "description": "cinco valores de mejor oferta",
  "subasta": {"id_cot": "22053", "url": "https://webecommerce.cba.gov.ar/VistaPublica/SubastaVivoAccesoPublico.aspx?aKey=x"},
  "config": {"tick_duration_seconds": 0.01, "max_ticks": 10},
  "timeline": [
    {"tick": 1, "hora": "10:00:00", "status": 200, "renglones": [
      {"id_renglon": "836160", "descripcion": "Insumos", "response_json": {"d": "null@@$ 1.000,00@@$ 900,00@@"}}
    ]},
    {"tick": 3, "hora": "10:00:20", "status": 200, "renglones": [
      {"id_renglon": "836160", "descripcion": "Insumos", "response_json": {"d": "null@@$ 1.000,00@@$ 850,00@@"}}
    ]},
    {"tick": 7, "hora": "10:01:00", "status": 503, "error_message": "Service Unavailable"},
    {"tick": 9, "hora": "10:01:20", "status": 200, "event": "end_auction", "message": "Subasta finalizada", "renglones": [
      {"id_renglon": "836160", "descripcion": "Insumos", "response_json": {"d": "null@@@@@@Subasta Finalizada"}}
    ]}
  ]
}`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleScenario))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if s.Name != "subida_basica" {
		t.Errorf("Name = %q, want subida_basica", s.Name)
	}
	if s.Subasta.IDCot != "22053" {
		t.Errorf("Subasta.IDCot = %q, want 22053", s.Subasta.IDCot)
	}
	if s.Config.MaxTicks != 10 {
		t.Errorf("Config.MaxTicks = %d, want 10", s.Config.MaxTicks)
	}
	if len(s.Timeline) != 4 {
		t.Fatalf("len(Timeline) = %d, want 4", len(s.Timeline))
	}
	if s.Timeline[3].Event != EventEndAuction {
		t.Errorf("Timeline[3].Event = %q, want %q", s.Timeline[3].Event, EventEndAuction)
	}
}

func TestEntryFor(t *testing.T) {
	s, err := Parse([]byte(sampleScenario))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		tick     int
		wantTick int
		wantNil  bool
	}{
		{0, 0, true},
		{1, 1, false},
		{2, 1, false},
		{3, 3, false},
		{6, 3, false},
		{7, 7, false},
		{8, 7, false},
		{9, 9, false},
		{100, 9, false},
	}
	for _, tt := range tests {
		got := s.EntryFor(tt.tick)
		if tt.wantNil {
			if got != nil {
				t.Errorf("EntryFor(%d) = tick %d, want nil", tt.tick, got.Tick)
			}
			continue
		}
		if got == nil {
			t.Errorf("EntryFor(%d) = nil, want tick %d", tt.tick, tt.wantTick)
			continue
		}
		if got.Tick != tt.wantTick {
			t.Errorf("EntryFor(%d) = tick %d, want %d", tt.tick, got.Tick, tt.wantTick)
		}
	}
}

func TestLastOK(t *testing.T) {
	s, err := Parse([]byte(sampleScenario))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		tick     int
		wantTick int
		wantNil  bool
	}{
		{0, 0, true},
		{1, 1, false},
		{6, 3, false},
		{7, 3, false}, // the 503 entry itself is skipped
		{8, 3, false},
		{9, 9, false},
	}
	for _, tt := range tests {
		got := s.LastOK(tt.tick)
		if tt.wantNil {
			if got != nil {
				t.Errorf("LastOK(%d) = tick %d, want nil", tt.tick, got.Tick)
			}
			continue
		}
		if got == nil {
			t.Errorf("LastOK(%d) = nil, want tick %d", tt.tick, tt.wantTick)
			continue
		}
		if got.Tick != tt.wantTick {
			t.Errorf("LastOK(%d) = tick %d, want %d", tt.tick, got.Tick, tt.wantTick)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Scenario)
		wantErr string
	}{
		{"missing name", func(s *Scenario) { s.Name = "" }, "scenario_name"},
		{"missing id_cot", func(s *Scenario) { s.Subasta.IDCot = "" }, "id_cot"},
		{"missing url", func(s *Scenario) { s.Subasta.URL = "" }, "url"},
		{"zero tick duration", func(s *Scenario) { s.Config.TickDurationSeconds = 0 }, "tick_duration_seconds"},
		{"zero max ticks", func(s *Scenario) { s.Config.MaxTicks = 0 }, "max_ticks"},
		{"empty timeline", func(s *Scenario) { s.Timeline = nil }, "timeline"},
		{"non-ascending ticks", func(s *Scenario) { s.Timeline[1].Tick = 1 }, "ascending"},
		{"bad status", func(s *Scenario) { s.Timeline[0].Status = 404 }, "status"},
		{"missing id_renglon", func(s *Scenario) { s.Timeline[0].Renglones[0].IDRenglon = "" }, "id_renglon"},
		{"missing response d", func(s *Scenario) { s.Timeline[0].Renglones[0].ResponseJSON.D = "" }, "response_json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse([]byte(sampleScenario))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			tt.mutate(s)
			err = s.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParse_BadJSON(t *testing.T) {
	if _, err := Parse([]byte("{truncated")); err == nil {
		t.Error("Parse of invalid json succeeded, want error")
	}
}
