package soft

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"hash"
	"math/big"
)

// RSA-PSS with an exact salt length. crypto/rsa reads SaltLength 0 as "auto"
// (maximum salt on sign, any salt on verify), so a zero-length salt is
// encoded here per RFC 8017 section 9.1; positive lengths go to crypto/rsa,
// which enforces them exactly.

var errPSSEncoding = errors.New("rsa: message too long for RSA-PSS with this key")

// signPSS signs digest with a salt of exactly saltLen bytes.
func signPSS(priv *rsa.PrivateKey, hashID crypto.Hash, digest []byte, saltLen int) ([]byte, error) {
	if saltLen > 0 {
		return rsa.SignPSS(rand.Reader, priv, hashID, digest, &rsa.PSSOptions{SaltLength: saltLen, Hash: hashID})
	}

	em, err := emsaPSSEncode(hashID.New(), digest, priv.N.BitLen()-1)
	if err != nil {
		return nil, err
	}
	s, err := decryptBlinded(priv, new(big.Int).SetBytes(em))
	if err != nil {
		return nil, err
	}
	return s.FillBytes(make([]byte, priv.Size())), nil
}

// verifyPSS reports whether signature is a valid PSS signature over digest
// with a salt of exactly saltLen bytes.
func verifyPSS(pub *rsa.PublicKey, hashID crypto.Hash, digest, signature []byte, saltLen int) bool {
	if saltLen > 0 {
		return rsa.VerifyPSS(pub, hashID, digest, signature, &rsa.PSSOptions{SaltLength: saltLen, Hash: hashID}) == nil
	}

	if len(signature) != pub.Size() {
		return false
	}
	s := new(big.Int).SetBytes(signature)
	if s.Cmp(pub.N) >= 0 {
		return false
	}
	m := new(big.Int).Exp(s, big.NewInt(int64(pub.E)), pub.N)

	emBits := pub.N.BitLen() - 1
	emLen := (emBits + 7) / 8
	if m.BitLen() > emLen*8 {
		return false
	}
	return emsaPSSVerifyNoSalt(hashID.New(), digest, m.FillBytes(make([]byte, emLen)), emBits)
}

// emsaPSSEncode builds EM for an empty salt.
func emsaPSSEncode(h hash.Hash, mHash []byte, emBits int) ([]byte, error) {
	hLen := h.Size()
	emLen := (emBits + 7) / 8
	if len(mHash) != hLen || emLen < hLen+2 {
		return nil, errPSSEncoding
	}

	var prefix [8]byte
	h.Reset()
	h.Write(prefix[:])
	h.Write(mHash)
	hm := h.Sum(nil)

	// DB = PS || 0x01, masked with MGF1(H).
	db := make([]byte, emLen-hLen-1)
	db[len(db)-1] = 0x01
	mask := mgf1(h, hm, len(db))
	subtle.XORBytes(db, db, mask)
	db[0] &= 0xFF >> (8*emLen - emBits)

	em := make([]byte, 0, emLen)
	em = append(em, db...)
	em = append(em, hm...)
	return append(em, 0xBC), nil
}

func emsaPSSVerifyNoSalt(h hash.Hash, mHash, em []byte, emBits int) bool {
	hLen := h.Size()
	emLen := len(em)
	if len(mHash) != hLen || emLen < hLen+2 || em[emLen-1] != 0xBC {
		return false
	}

	db := append([]byte(nil), em[:emLen-hLen-1]...)
	hm := em[emLen-hLen-1 : emLen-1]
	topBits := byte(0xFF >> (8*emLen - emBits))
	if db[0]&^topBits != 0 {
		return false
	}
	subtle.XORBytes(db, db, mgf1(h, hm, len(db)))
	db[0] &= topBits

	for _, b := range db[:len(db)-1] {
		if b != 0 {
			return false
		}
	}
	if db[len(db)-1] != 0x01 {
		return false
	}

	var prefix [8]byte
	h.Reset()
	h.Write(prefix[:])
	h.Write(mHash)
	return subtle.ConstantTimeCompare(h.Sum(nil), hm) == 1
}

func mgf1(h hash.Hash, seed []byte, n int) []byte {
	out := make([]byte, 0, n+h.Size())
	var counter [4]byte
	for i := uint32(0); len(out) < n; i++ {
		binary.BigEndian.PutUint32(counter[:], i)
		h.Reset()
		h.Write(seed)
		h.Write(counter[:])
		out = h.Sum(out)
	}
	return out[:n]
}

// decryptBlinded computes c^d mod n with a random blinding factor and checks
// the result against the public exponent.
func decryptBlinded(priv *rsa.PrivateKey, c *big.Int) (*big.Int, error) {
	n := priv.N
	e := big.NewInt(int64(priv.E))

	var r, rInv *big.Int
	for {
		var err error
		r, err = rand.Int(rand.Reader, n)
		if err != nil {
			return nil, err
		}
		if r.Sign() == 0 {
			continue
		}
		if rInv = new(big.Int).ModInverse(r, n); rInv != nil {
			break
		}
	}

	blinded := new(big.Int).Exp(r, e, n)
	blinded.Mul(blinded, c).Mod(blinded, n)
	s := new(big.Int).Exp(blinded, priv.D, n)
	s.Mul(s, rInv).Mod(s, n)

	if new(big.Int).Exp(s, e, n).Cmp(c) != 0 {
		return nil, errors.New("rsa: internal error in signature computation")
	}
	return s, nil
}
