/*
Package userinfohandler implements the identity provider's userinfo endpoint
and its client.

The endpoint serves the identity document for a bearer access token: the
account's email and, for accounts in a managed domain, the hosted-domain
marker. The enrollment workflow reads only that marker to decide whether a
registration may proceed; everything else is informational.

Client implements interfaces.UserInfoSource for the agent side, and the
device-management service uses the same client to validate access tokens
presented at registration.
*/
package userinfohandler
