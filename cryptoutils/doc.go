// Package cryptoutils provides the text encryptors used to protect property values.
//
// Two encryptors are available. AESTextEncryptor is symmetric and keyed by a
// passphrase; ECIESTextEncryptor encrypts to a P-256 public key, so values can be
// encrypted by anyone holding the public key and decrypted only by the server.
//
// The ECIES scheme:
//
//   - ECDH on NIST P-256 with a fresh ephemeral key per value
//   - SHA-256 of the shared secret as the AES-256 key
//   - AES-GCM for authenticated encryption
//
// KeyStore maps key aliases to encryptors and implements
// interfaces.TextEncryptorLocator. SplitKey and CombineKeyShares wrap Shamir's
// secret sharing so that a server private key can be held by several operators.
package cryptoutils
