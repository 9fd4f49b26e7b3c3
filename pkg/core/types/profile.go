package types

// CustomerProfile is the static record for one callee. It is created at
// orchestration time and read-only during a call.
type CustomerProfile struct {
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	Age          int    `json:"age"`
	City         string `json:"city"`
	Language     string `json:"language"`
	BankName     string `json:"bank_name"`
	PhoneNumber  string `json:"phone_number"` // E.164
	Gender       string `json:"gender"`
}

// ProviderSelection names the STT/LLM/TTS back-ends for one session.
type ProviderSelection struct {
	STT string `json:"stt"`
	LLM string `json:"llm"`
	TTS string `json:"tts"`
}
