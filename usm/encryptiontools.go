// PowerSNMP Engine - SNMP v1/v2c/v3 engine for Go
// Автор: Волков Олег, ООО "Пауэр Си"
// Author: Volkov Oleg, PowerC LLC
// License: MIT (commercial version with support available)
// Лицензия: MIT (доступна коммерческая версия с поддержкой)
package usm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"encoding/binary"
	"errors"
	"fmt"
)

// padToBlock extends src to a multiple of blockSize. RFC 3414 §8.1.1.2 leaves
// the pad value open; receivers rely on the BER length of the scoped PDU and
// ignore the tail, so nothing is added when src is already aligned.
func padToBlock(src []byte, blockSize int) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("zero data length")
	}
	if len(src)%blockSize == 0 {
		return src, nil
	}
	padding := blockSize - len(src)%blockSize
	out := make([]byte, len(src), len(src)+padding)
	copy(out, src)
	for i := 0; i < padding; i++ {
		out = append(out, byte(padding))
	}
	return out, nil
}

// encryptAESCFB performs AES-CFB128 encryption (RFC 3826) for 16/24/32 byte
// keys. The output has the length of src; CFB needs no padding.
func encryptAESCFB(src, key, iv []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("source data length error")
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("IV length error")
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("key length error")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	cipher.NewCFBEncrypter(block, iv).XORKeyStream(dst, src)
	return dst, nil
}

func decryptAESCFB(src, key, iv []byte) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("source data length error")
	}
	if len(iv) != aes.BlockSize {
		return nil, errors.New("IV length error")
	}
	if len(key) != 16 && len(key) != 24 && len(key) != 32 {
		return nil, errors.New("key length error")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(src))
	cipher.NewCFBDecrypter(block, iv).XORKeyStream(dst, src)
	return dst, nil
}

// encryptCBC pads src and encrypts it with a DES or 3DES block cipher.
func encryptCBC(block cipher.Block, src, iv []byte) ([]byte, error) {
	if len(iv) != block.BlockSize() {
		return nil, errors.New("IV length error")
	}
	padded, err := padToBlock(src, block.BlockSize())
	if err != nil {
		return nil, err
	}
	dst := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(dst, padded)
	return dst, nil
}

// decryptCBC returns the padded plaintext; the scoped PDU decoder drops the
// tail.
func decryptCBC(block cipher.Block, src, iv []byte) ([]byte, error) {
	if len(iv) != block.BlockSize() {
		return nil, errors.New("IV length error")
	}
	if len(src) == 0 || len(src)%block.BlockSize() != 0 {
		return nil, errors.New("source length error")
	}
	dst := make([]byte, len(src))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(dst, src)
	return dst, nil
}

// cbcCipher splits the privacy key of DES (8 key + 8 pre-IV) or 3DES-EDE
// (24 key + 8 pre-IV) into a block cipher and its pre-IV.
func cbcCipher(PrivProtocol int, key []byte) (cipher.Block, []byte, error) {
	switch PrivProtocol {
	case PRIV_PROTOCOL_DES:
		if len(key) != 16 {
			return nil, nil, errors.New("key length error")
		}
		block, err := des.NewCipher(key[:8])
		return block, key[8:16], err
	case PRIV_PROTOCOL_3DES:
		if len(key) != 32 {
			return nil, nil, errors.New("key length error")
		}
		block, err := des.NewTripleDESCipher(key[:24])
		return block, key[24:32], err
	}
	return nil, nil, fmt.Errorf("%w: priv %d", ErrUnknownProtocol, PrivProtocol)
}

func isAESProtocol(PrivProtocol int) bool {
	switch PrivProtocol {
	case PRIV_PROTOCOL_AES128, PRIV_PROTOCOL_AES192, PRIV_PROTOCOL_AES256,
		PRIV_PROTOCOL_AES192A, PRIV_PROTOCOL_AES256A:
		return true
	}
	return false
}

// aesIV builds the RFC 3826 IV: boots(4) | time(4) | salt(8).
func aesIV(boots, engineTime uint32, salt []byte) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint32(iv[0:4], boots)
	binary.BigEndian.PutUint32(iv[4:8], engineTime)
	copy(iv[8:], salt)
	return iv
}

// cbcIV is pre-IV XOR salt (RFC 3414 §8.1.1.1).
func cbcIV(preIV, salt []byte) []byte {
	iv := make([]byte, len(preIV))
	for i := range iv {
		iv[i] = preIV[i] ^ salt[i]
	}
	return iv
}

// encryptScopedPDU encrypts a serialized scoped PDU.
//
// Parameters:
//
//	PrivProtocol - PRIV_PROTOCOL_*
//	key          - privacy key from PrivKey
//	boots, time  - authoritative engine counters put into the message
//	salt         - 8 fresh bytes; for DES/3DES the first 4 are replaced by boots
//
// Returns:
//
//	ciphertext and the msgPrivacyParameters to send
func encryptScopedPDU(PrivProtocol int, key []byte, boots, engineTime uint32, salt []byte, plaintext []byte) ([]byte, []byte, error) {
	if len(salt) != 8 {
		return nil, nil, errors.New("salt length error")
	}
	if isAESProtocol(PrivProtocol) {
		if len(key) != privKeyLength(PrivProtocol) {
			return nil, nil, errors.New("key length error")
		}
		ct, err := encryptAESCFB(plaintext, key, aesIV(boots, engineTime, salt))
		if err != nil {
			return nil, nil, err
		}
		return ct, append([]byte(nil), salt...), nil
	}

	block, preIV, err := cbcCipher(PrivProtocol, key)
	if err != nil {
		return nil, nil, err
	}
	privParams := make([]byte, 8)
	binary.BigEndian.PutUint32(privParams[0:4], boots)
	copy(privParams[4:8], salt[4:8])
	ct, err := encryptCBC(block, plaintext, cbcIV(preIV, privParams))
	if err != nil {
		return nil, nil, err
	}
	return ct, privParams, nil
}

// decryptScopedPDU reverses encryptScopedPDU using the msgPrivacyParameters
// and the boots/time values of the received message.
func decryptScopedPDU(PrivProtocol int, key []byte, boots, engineTime uint32, privParams []byte, ciphertext []byte) ([]byte, error) {
	if len(privParams) != 8 {
		return nil, fmt.Errorf("privacy parameters length %d", len(privParams))
	}
	if isAESProtocol(PrivProtocol) {
		if len(key) != privKeyLength(PrivProtocol) {
			return nil, errors.New("key length error")
		}
		return decryptAESCFB(ciphertext, key, aesIV(boots, engineTime, privParams))
	}
	block, preIV, err := cbcCipher(PrivProtocol, key)
	if err != nil {
		return nil, err
	}
	return decryptCBC(block, ciphertext, cbcIV(preIV, privParams))
}
