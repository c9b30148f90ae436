package forwarder

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"

	"github.com/nerrad567/lora-bridge/internal/persistence"
)

// ServerAddress turns the bridge listen address into the address the
// forwarder should send to. An unspecified host becomes loopback.
func ServerAddress(listen string) (string, error) {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidListen, err)
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port), nil
}

// radioValues returns the placeholder values for radio and server.
func radioValues(radio persistence.RadioSettings, server string) map[string]string {
	return map[string]string{
		"server":    server,
		"freq_mhz":  strconv.FormatFloat(radio.FrequencyMHz, 'f', -1, 64),
		"freq_hz":   strconv.FormatInt(int64(math.Round(radio.FrequencyMHz*1e6)), 10),
		"sf":        strconv.Itoa(int(radio.SpreadingFactor)),
		"bw":        strconv.Itoa(radio.BandwidthHz),
		"cr":        strconv.Itoa(int(radio.CodingRate)),
		"preamble":  strconv.Itoa(radio.Preamble),
		"sync_word": fmt.Sprintf("0x%02X", radio.SyncWord),
	}
}

// ExpandArgs substitutes {name} placeholders in args. Unknown placeholders
// are left as they are.
func ExpandArgs(args []string, radio persistence.RadioSettings, server string) []string {
	values := radioValues(radio, server)
	pairs := make([]string, 0, 2*len(values))
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)

	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

// Environment returns the radio settings as LORA_* variables.
func Environment(radio persistence.RadioSettings, server string) []string {
	values := radioValues(radio, server)
	return []string{
		"LORA_SERVER=" + values["server"],
		"LORA_FREQ_MHZ=" + values["freq_mhz"],
		"LORA_FREQ_HZ=" + values["freq_hz"],
		"LORA_SF=" + values["sf"],
		"LORA_BW=" + values["bw"],
		"LORA_CR=" + values["cr"],
		"LORA_PREAMBLE=" + values["preamble"],
		"LORA_SYNC_WORD=" + values["sync_word"],
	}
}
