package verify

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/mr-tron/base58"
	"github.com/tendant/nodeclaim/pkg/domain"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for P2PKH hash160
)

// header byte followed by R and S
const compactSignatureLen = 65

// Network holds what a chain's wallets sign with and encode addresses with.
type Network struct {
	MessagePrefix     string
	PubKeyHashVersion byte
}

var (
	BitcoinMainnet  = Network{MessagePrefix: "Bitcoin Signed Message:\n", PubKeyHashVersion: 0x00}
	DogecoinMainnet = Network{MessagePrefix: "Dogecoin Signed Message:\n", PubKeyHashVersion: 0x1e}
)

// SignedMessageHash returns the double SHA-256 digest that Bitcoin-style
// wallets sign for msg under prefix.
func SignedMessageHash(prefix, msg string) []byte {
	var buf bytes.Buffer
	writeCompactSize(&buf, uint64(len(prefix)))
	buf.WriteString(prefix)
	writeCompactSize(&buf, uint64(len(msg)))
	buf.WriteString(msg)

	first := sha256.Sum256(buf.Bytes())
	second := sha256.Sum256(first[:])
	return second[:]
}

// RecoverAddress recovers the P2PKH address on network that produced the
// base64 compact signature over msg.
func RecoverAddress(signatureB64, msg string, network Network) (string, error) {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return "", fmt.Errorf("%w: not base64", domain.ErrInvalidSignature)
	}
	if len(sig) != compactSignatureLen {
		return "", fmt.Errorf("%w: want %d bytes, got %d", domain.ErrInvalidSignature, compactSignatureLen, len(sig))
	}

	pub, compressed, err := ecdsa.RecoverCompact(sig, SignedMessageHash(network.MessagePrefix, msg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}

	var raw []byte
	if compressed {
		raw = pub.SerializeCompressed()
	} else {
		raw = pub.SerializeUncompressed()
	}
	return PubKeyHashAddress(raw, network.PubKeyHashVersion), nil
}

// PubKeyHashAddress encodes a serialized public key as a Base58Check P2PKH address.
func PubKeyHashAddress(pubKey []byte, version byte) string {
	sha := sha256.Sum256(pubKey)
	h := ripemd160.New()
	h.Write(sha[:])
	hash160 := h.Sum(nil)

	payload := make([]byte, 0, 1+len(hash160)+4)
	payload = append(payload, version)
	payload = append(payload, hash160...)

	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	payload = append(payload, second[:4]...)

	return base58.Encode(payload)
}

// writeCompactSize writes n in Bitcoin's variable-length integer encoding.
func writeCompactSize(buf *bytes.Buffer, n uint64) {
	var tmp [9]byte
	switch {
	case n < 0xfd:
		buf.WriteByte(byte(n))
	case n <= 0xffff:
		tmp[0] = 0xfd
		binary.LittleEndian.PutUint16(tmp[1:], uint16(n))
		buf.Write(tmp[:3])
	case n <= 0xffffffff:
		tmp[0] = 0xfe
		binary.LittleEndian.PutUint32(tmp[1:], uint32(n))
		buf.Write(tmp[:5])
	default:
		tmp[0] = 0xff
		binary.LittleEndian.PutUint64(tmp[1:], n)
		buf.Write(tmp[:9])
	}
}
