// Package crypto provides field-level data encryption with managed key
// lifecycle.
//
// A filesystem keystore holds per-purpose AES-256 keys, each encrypted under
// a master key that is generated once and never rotated automatically.
// Rotation archives the previous key version instead of deleting it, so
// outstanding ciphertexts stay decryptable; deleting a key is deliberate,
// permanent forgetting.
package crypto
