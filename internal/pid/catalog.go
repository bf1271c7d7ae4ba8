package pid

// Mode 01 PIDs of the built-in catalog.
const (
	EngineLoad     ID = 0x0104
	CoolantTemp    ID = 0x0105
	FuelShortTerm1 ID = 0x0106
	FuelLongTerm1  ID = 0x0107
	FuelShortTerm2 ID = 0x0108
	FuelLongTerm2  ID = 0x0109
	RPM            ID = 0x010C
	Speed          ID = 0x010D
	IntakeTemp     ID = 0x010F
	MAFFlow        ID = 0x0110
	Throttle       ID = 0x0111
	AbsoluteLoad   ID = 0x0143
)

func percent(raw uint32) float64 {
	return float64(raw) * 100 / 255
}

func trim(raw uint32) float64 {
	return (float64(raw) - 128) * 100 / 128
}

// DefaultEntries returns a fresh copy of the built-in catalog. Lower
// priority values are queried first.
func DefaultEntries() []Info {
	return []Info{
		{ID: RPM, Bytes: 2, Priority: 1, Name: "rpm", Unit: "rpm", Convert: Linear(0.25, 0)},
		{ID: Speed, Bytes: 1, Priority: 1, Name: "speed", Unit: "km/h"},
		{ID: Throttle, Bytes: 1, Priority: 1, Name: "throttle", Unit: "%", Convert: percent},
		{ID: EngineLoad, Bytes: 1, Priority: 2, Name: "engine_load", Unit: "%", Convert: percent},
		{ID: MAFFlow, Bytes: 2, Priority: 2, Name: "maf_flow", Unit: "g/s", Convert: Linear(0.01, 0)},
		{ID: AbsoluteLoad, Bytes: 2, Priority: 2, Name: "abs_load", Unit: "%", Convert: percent},
		{ID: CoolantTemp, Bytes: 1, Priority: 3, Name: "coolant_temp", Unit: "°C", Convert: Linear(1, -40)},
		{ID: IntakeTemp, Bytes: 1, Priority: 3, Name: "intake_temp", Unit: "°C", Convert: Linear(1, -40)},
		{ID: FuelShortTerm1, Bytes: 1, Priority: 3, Name: "fuel_short_term_1", Unit: "%", Convert: trim},
		{ID: FuelLongTerm1, Bytes: 1, Priority: 3, Name: "fuel_long_term_1", Unit: "%", Convert: trim},
		{ID: FuelShortTerm2, Bytes: 1, Priority: 3, Name: "fuel_short_term_2", Unit: "%", Convert: trim},
		{ID: FuelLongTerm2, Bytes: 1, Priority: 3, Name: "fuel_long_term_2", Unit: "%", Convert: trim},
	}
}

// Default builds a registry from the built-in catalog.
func Default() *Registry {
	r, err := NewRegistry(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return r
}
