// Package ids implements the content-addressing primitives that every
// higher portal layer builds on: a project-specific base32 alphabet, content
// hash signatures, random signatures, node signatures, and a debug-identifier
// helper.
package ids

// SignatureLength is the truncation length for short, URL-friendly
// signatures. With base32 (5 bits/char) 22 chars is about 110 bits of
// entropy, ample for collision resistance while staying compact. Must be at
// least 10, the shortest signature portal.NewHashAddr accepts.
const SignatureLength = 22

// HashType names the hash algorithm backing content signatures.
const HashType = "sha256"

// Base32Alphabet is this project's alphabet: digits 0-9 then letters a-v
// (22 letters), 32 symbols total. It intentionally differs from RFC 4648
// base32.
const Base32Alphabet = "0123456789abcdefghijklmnopqrstuv"

// MetadataTimeoutSeconds bounds OS/metadata-service calls made while
// deriving a node signature.
const MetadataTimeoutSeconds = 2

// MetadataReadLimit caps how many bytes are read from a single metadata
// source file to avoid pathological memory use.
const MetadataReadLimit = 4096

// AppName namespaces the system/user config directory used to persist a
// fallback node signature.
const AppName = "pythagoras"

// SMBIOSUUIDPath is the hardware product UUID path on Linux systems.
const SMBIOSUUIDPath = "/sys/class/dmi/id/product_uuid"

// NodeSignatureVersion is mixed into the node-signature payload so future
// changes to the derivation algorithm can be distinguished from older nodes.
const NodeSignatureVersion = "version_2"
