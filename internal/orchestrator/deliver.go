package orchestrator

import (
	"time"

	"meshchat/internal/crypto"
)

// deliverGroupMsg decrypts and surfaces a group message addressed to
// this peer. A decrypt failure is non-fatal: it means the sender and
// receiver derived different keys from the group password, logged as
// "used another key" and the message dropped (spec.md §7).
func (c *Client) deliverGroupMsg(origin, group, ciphertext string) {
	key, iv, ok := c.id.GroupKey(group)
	if !ok {
		c.metrics.IncDecryptFailures()
		c.log.Debugf("no group key for %s, dropping message from %s", group, origin)
		return
	}
	plaintext, err := crypto.GroupDecrypt(ciphertext, key, iv)
	if err != nil {
		c.metrics.IncDecryptFailures()
		c.log.Debugf("group %s: used another key, dropping message from %s", group, origin)
		return
	}
	c.log.Infof("[%s] %s: %s", group, origin, plaintext)
}

// deliverUnicastMsg decrypts and surfaces a direct message.
func (c *Client) deliverUnicastMsg(origin, ciphertext string) {
	plaintext, err := crypto.PrivateDecrypt(ciphertext, c.id.PrivateKey())
	if err != nil {
		c.metrics.IncDecryptFailures()
		c.log.Debugf("used another key, dropping message from %s", origin)
		return
	}
	c.log.Infof("%s: %s", origin, plaintext)
}

// deliverPong reports a completed round trip.
func (c *Client) deliverPong(origin string, start int64) {
	rtt := time.Duration(nowMillis()-start) * time.Millisecond
	c.log.Infof("pong from %s: %s", origin, rtt)
}
