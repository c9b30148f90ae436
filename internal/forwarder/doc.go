// Package forwarder runs the LoRa packet forwarder as a supervised child
// process.
//
// The forwarder is the daemon that drives the radio and sends every received
// frame to the bridge's UDP listener (see package radio). When the bridge
// manages it, the Supervisor:
//   - starts the binary with the radio settings substituted into its
//     arguments and exported as LORA_* environment variables
//   - restarts it after an unexpected exit, with a fixed delay and an
//     optional attempt limit
//   - restarts it when no frame has arrived for the silence timeout, which
//     catches a radio that hangs while the process stays alive
//   - stops the whole process group on shutdown, SIGTERM first, then SIGKILL
//
// Argument placeholders:
//
//	{server}       host:port the forwarder sends to
//	{freq_mhz}     frequency in MHz, e.g. 868.1
//	{freq_hz}      frequency in Hz, e.g. 868100000
//	{sf} {bw} {cr} spreading factor, bandwidth in Hz, coding rate 5..8
//	{preamble}     preamble length
//	{sync_word}    sync word as 0xNN
package forwarder
