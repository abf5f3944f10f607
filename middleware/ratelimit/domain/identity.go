package domain

import "net/netip"

// KeyType diz qual sinal acabou compondo a chave.
type KeyType string

const (
	KeyTypeIP      KeyType = "ip"
	KeyTypeAuth    KeyType = "auth"
	KeyTypeAuthIP  KeyType = "auth+ip"
	KeyTypeUnknown KeyType = "unknown"
)

// KeySource nomeia o sinal literal que forneceu o valor da chave.
// Na chave composta o valor é "authorization+<origem do ip>".
type KeySource string

const (
	SourceExtension      KeySource = "extension"
	SourceCFConnectingIP KeySource = "cf-connecting-ip"
	SourceXForwardedFor  KeySource = "x-forwarded-for"
	SourceXRealIP        KeySource = "x-real-ip"
	SourcePeer           KeySource = "peer"
	SourceAuthorization  KeySource = "authorization"
	SourceUnknown        KeySource = "unknown"
)

// UnknownKey é o bucket compartilhado por quem não tem IP nem token.
const UnknownKey Key = "unknown"

// ClientIdentity é calculada a cada requisição; nunca é guardada.
type ClientIdentity struct {
	Key    Key
	Type   KeyType
	Source KeySource
}

// ProxyTrust decide se um peer físico pode ditar o IP do cliente via headers.
type ProxyTrust interface {
	IsTrusted(peer netip.Addr) bool
}
