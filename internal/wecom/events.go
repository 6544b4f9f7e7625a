// ABOUTME: XML envelope and event payload parsing for WeCom webhook callbacks
// ABOUTME: Covers the outer Encrypt wrapper and the decrypted kf event body

package wecom

import (
	"encoding/xml"
	"fmt"
)

// Event names delivered inside decrypted callback payloads.
const (
	EventKfMsgOrEvent = "kf_msg_or_event"
)

// CallbackEnvelope is the outer XML body of a webhook POST. Only the Encrypt
// element participates in signature verification and decryption.
type CallbackEnvelope struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	AgentID    string   `xml:"AgentID"`
	Encrypt    string   `xml:"Encrypt"`
}

// CallbackEvent is the decrypted inner XML payload of a webhook POST. For
// kf_msg_or_event deliveries, Token is the one-shot credential passed to the
// sync_msg API and OpenKfID identifies the customer-service account.
type CallbackEvent struct {
	XMLName    xml.Name `xml:"xml"`
	ToUserName string   `xml:"ToUserName"`
	CreateTime int64    `xml:"CreateTime"`
	MsgType    string   `xml:"MsgType"`
	Event      string   `xml:"Event"`
	Token      string   `xml:"Token"`
	OpenKfID   string   `xml:"OpenKfId"`
}

// ParseCallbackEnvelope parses the outer webhook XML body.
func ParseCallbackEnvelope(body []byte) (*CallbackEnvelope, error) {
	var env CallbackEnvelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("parsing callback envelope: %w", err)
	}
	if env.Encrypt == "" {
		return nil, fmt.Errorf("callback envelope has no Encrypt element")
	}
	return &env, nil
}

// ParseCallbackEvent parses a decrypted callback payload.
func ParseCallbackEvent(plain []byte) (*CallbackEvent, error) {
	var ev CallbackEvent
	if err := xml.Unmarshal(plain, &ev); err != nil {
		return nil, fmt.Errorf("parsing callback event: %w", err)
	}
	return &ev, nil
}
