package imapclient

// xoauth2Client implements go-sasl's sasl.Client interface for the XOAUTH2
// mechanism, grounded on the custom SASL client shape in
// other_examples/c24b1c35_lorduskordus-aerion's NewXOAuth2Client, adapted
// to the v1 go-sasl Client interface (Start/Next).
type xoauth2Client struct {
	username    string
	accessToken string
}

func newXOAuth2Client(username, accessToken string) *xoauth2Client {
	return &xoauth2Client{username: username, accessToken: accessToken}
}

// Start returns the XOAUTH2 initial response in one shot; the mechanism
// has no further challenge/response round trips on success.
func (c *xoauth2Client) Start() (mech string, ir []byte, err error) {
	ir = []byte("user=" + c.username + "\x01auth=Bearer " + c.accessToken + "\x01\x01")
	return "XOAUTH2", ir, nil
}

// Next handles the server's error challenge (a JSON error blob) by
// responding with an empty byte string, which aborts the exchange and
// surfaces the server's rejection as an error from Authenticate.
func (c *xoauth2Client) Next(challenge []byte) (response []byte, err error) {
	return []byte{}, nil
}
