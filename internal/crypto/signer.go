package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// orderTypeHash is the pre-computed keccak256 of the canonical venue order
// type string. The venue verifies submissions against this digest scheme.
var orderTypeHash = ethcrypto.Keccak256(
	[]byte("VenueOrder(address maker,bytes32 symbol,uint8 side,uint256 quantity,uint256 limitPrice,uint256 nonce,uint256 deadline,uint256 chainId)"),
)

// TxPayload carries the fields of a venue order that are signed before
// submission. Quantity and price are fixed-point with 1e6 scale to preserve
// precision across the JSON boundary.
type TxPayload struct {
	Maker      string `json:"maker"`
	Symbol     string `json:"symbol"`
	Side       int    `json:"side"` // 0 = BUY, 1 = SELL
	Quantity   int64  `json:"quantity"`
	LimitPrice int64  `json:"limitPrice"`
	Nonce      int64  `json:"nonce"`
	Deadline   int64  `json:"deadline"` // unix seconds
}

// Signer signs venue order payloads with a secp256k1 wallet key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    int
}

// NewSigner creates a Signer from a hex-encoded secp256k1 private key and
// the venue chain ID.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	keyHex := strings.TrimPrefix(privateKeyHex, "0x")
	pk, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}

	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		chainID:    chainID,
	}, nil
}

// Address returns the wallet address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx hashes and signs a venue order payload. It returns a hex-encoded
// 65-byte signature (r || s || v).
func (s *Signer) SignTx(tx TxPayload) (string, error) {
	digest := s.txDigest(tx)

	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}

	// go-ethereum returns v in {0,1}; the venue expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}

	return "0x" + hex.EncodeToString(sig), nil
}

// txDigest computes keccak256(typeHash || encoded fields) for a payload.
func (s *Signer) txDigest(tx TxPayload) []byte {
	maker := common.HexToAddress(tx.Maker)
	return ethcrypto.Keccak256(
		concatBytes(
			orderTypeHash,
			common.LeftPadBytes(maker.Bytes(), 32),
			ethcrypto.Keccak256([]byte(tx.Symbol)),
			bigIntTo32Bytes(big.NewInt(int64(tx.Side))),
			bigIntTo32Bytes(big.NewInt(tx.Quantity)),
			bigIntTo32Bytes(big.NewInt(tx.LimitPrice)),
			bigIntTo32Bytes(big.NewInt(tx.Nonce)),
			bigIntTo32Bytes(big.NewInt(tx.Deadline)),
			bigIntTo32Bytes(big.NewInt(int64(s.chainID))),
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
