// Package cipher implements the decryption gate applied to every radio frame
// before it is parsed.
//
// Three modes are supported:
//
//   - ModeNone: the buffer passes through untouched.
//   - ModeStream: the buffer is XORed with the repeating key. The operation
//     is its own inverse.
//   - ModeBlock: AES-128 in ECB mode over whole 16-byte blocks. The key is
//     zero-padded or truncated to 16 bytes.
//
// A block-mode buffer that is not a whole number of blocks is handled by the
// gate's PartialBlockPolicy. PolicyReject (the default) refuses the frame;
// PolicyPassthrough decrypts the whole blocks and leaves the tail as
// received, which is what older firmware did.
//
// An empty key disables decryption in every mode.
package cipher
