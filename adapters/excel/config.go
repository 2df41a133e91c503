package excel

// ReaderConfig holds configuration for the training table source
type ReaderConfig struct {
	Sheet string `json:"sheet"` // worksheet read from .xlsx files
}

// DefaultReaderConfig returns the defaults used when no sheet is configured
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{Sheet: "Sheet1"}
}
