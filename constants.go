package jinue

import "github.com/jinuekernel/jinue/internal/constants"

// Re-exported tunables, so a caller outside this module can reference
// MaxDescriptors/KLimit/PageSize without reaching into internal/constants
// (which it cannot import).
const (
	MaxDescriptors          = constants.MaxDescriptors
	MaxMessageSize          = constants.MaxMessageSize
	PageSize                = constants.PageSize
	AutoReserve             = constants.AutoReserve
	KLimit                  = constants.KLimit
	DefaultThreadStackPages = constants.DefaultThreadStackPages
	LogRingSize             = constants.LogRingSize
	LogFrameAlignment       = constants.LogFrameAlignment
	SerialDefaultBaudRate   = constants.SerialDefaultBaudRate
	SerialDefaultIOPort     = constants.SerialDefaultIOPort
	SerialMaxIOPort         = constants.SerialMaxIOPort
)
