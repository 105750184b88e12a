package roam

import (
	"encoding/binary"
	"time"

	"github.com/josharian/native"
)

// scanParamsLen is the encoded size of a scanParams record.
const scanParamsLen = 8

// scanParams is the fixed-layout scan parameter record carried by START
// and UPDATE_CONFIG. Firmware reads it in host byte order.
type scanParams struct {
	ByteOrder binary.ByteOrder

	PeriodMs      uint32
	RSSIThreshold int8
	RSSIDiff      uint8
	MaxChannels   uint8
}

func newScanParams(p ScanParams) scanParams {
	return scanParams{
		ByteOrder:     native.Endian,
		PeriodMs:      uint32(p.Period / time.Millisecond),
		RSSIThreshold: p.RSSIThreshold,
		RSSIDiff:      p.RSSIDiff,
		MaxChannels:   p.MaxChannels,
	}
}

func (b scanParams) Serialize() []byte {
	data := make([]byte, 0, scanParamsLen)

	period := make([]byte, 4)
	b.ByteOrder.PutUint32(period, b.PeriodMs)
	data = append(data, period...)

	data = append(data, byte(b.RSSIThreshold))
	data = append(data, b.RSSIDiff)
	data = append(data, b.MaxChannels)

	// Reserved.
	data = append(data, 0)

	return data
}
