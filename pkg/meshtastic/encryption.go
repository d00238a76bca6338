package meshtastic

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	pb "github.com/meshtastic/go/generated"
	protobuf "google.golang.org/protobuf/proto"
)

// defaultChannelKey is the well-known key selected by the one byte PSK 0x01.
var defaultChannelKey = []byte{
	0xd4, 0xf1, 0xbb, 0x3a, 0x20, 0x29, 0x07, 0x59,
	0xf0, 0xbc, 0xff, 0xab, 0xcf, 0x4e, 0x69, 0x01,
}

// DecryptPSK decrypts the encrypted payload of a MeshPacket using the provided AES cipher block.
func DecryptPSK(packet *pb.MeshPacket, block cipher.Block) (*pb.Data, error) {
	encrypted := packet.GetEncrypted()
	decrypted := make([]byte, len(encrypted))
	cipher.NewCTR(block, packetNonce(packet)).XORKeyStream(decrypted, encrypted)

	decryptedData := new(pb.Data)
	if err := protobuf.Unmarshal(decrypted, decryptedData); err != nil {
		return nil, ErrInvalidPacketFormat
	}
	return decryptedData, nil
}

// EncryptPSK returns a copy of packet whose decoded payload is replaced by its encrypted form.
// Packets that are not decoded are returned unchanged.
func EncryptPSK(packet *pb.MeshPacket, block cipher.Block) (*pb.MeshPacket, error) {
	data := packet.GetDecoded()
	if data == nil {
		return packet, nil
	}

	plain, err := protobuf.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling error: %w", err)
	}
	encrypted := make([]byte, len(plain))
	cipher.NewCTR(block, packetNonce(packet)).XORKeyStream(encrypted, plain)

	out := protobuf.Clone(packet).(*pb.MeshPacket)
	out.PayloadVariant = &pb.MeshPacket_Encrypted{Encrypted: encrypted}
	return out, nil
}

// DecodePacket returns packet with its payload decrypted when it is encrypted and a key is
// available. Packets that cannot be decrypted are returned as they are.
func DecodePacket(packet *pb.MeshPacket, block cipher.Block) *pb.MeshPacket {
	if block == nil || packet.GetEncrypted() == nil {
		return packet
	}
	data, err := DecryptPSK(packet, block)
	if err != nil {
		return packet
	}
	out := protobuf.Clone(packet).(*pb.MeshPacket)
	out.PayloadVariant = &pb.MeshPacket_Decoded{Decoded: data}
	return out
}

func packetNonce(packet *pb.MeshPacket) []byte {
	nonce := make([]byte, 16)
	binary.LittleEndian.PutUint32(nonce[0:], packet.GetId())
	binary.LittleEndian.PutUint32(nonce[8:], packet.GetFrom())
	return nonce
}

// DecodeCipherKeyBase64 converts a base64-encoded string into an AES cipher block.
// One byte keys are expanded the way devices do: 0 disables encryption (nil block),
// 1 selects the default key and higher values select its variants.
func DecodeCipherKeyBase64(key string) (cipher.Block, error) {
	bytes, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, err
	}

	switch {
	case len(bytes) == 0 || (len(bytes) == 1 && bytes[0] == 0):
		return nil, nil
	case len(bytes) == 1:
		expanded := append([]byte(nil), defaultChannelKey...)
		expanded[len(expanded)-1] += bytes[0] - 1
		bytes = expanded
	}

	c, err := aes.NewCipher(bytes)
	if err != nil {
		return nil, err
	}
	return c, nil
}
