package main

import (
	"github.com/nats-io/jwt/v2"

	"github.com/codeedexprojects/rigsdock-chat/pkg/chat"
)

// respTTL gives request/reply responders five minutes to answer.
const respTTL = 5 * 60 * 1000000000 // nanoseconds

// mapPermissions converts a bound participant into NATS permissions.
// Deliveries are scoped to deliver.{participant}.> so a connection can only
// ever subscribe to its own copies, and a vendor can only read the history
// of its own conversation.
func mapPermissions(p chat.Participant) jwt.Permissions {
	perms := jwt.Permissions{
		Pub: jwt.Permission{
			Allow: jwt.StringList{
				chat.SubjectJoin,
				chat.SubjectLeave,
				chat.SubjectSend,
				"_INBOX.>",
			},
		},
		Sub: jwt.Permission{
			Allow: jwt.StringList{
				"deliver." + p.ID + ".>",
				"_INBOX.>",
			},
		},
		Resp: &jwt.ResponsePermission{
			MaxMsgs: 1,
			Expires: respTTL,
		},
	}

	switch p.Role {
	case chat.RoleAdmin:
		// Admins page through any vendor conversation.
		perms.Pub.Allow.Add("chat.history.>")
	case chat.RoleVendor:
		perms.Pub.Allow.Add(chat.HistorySubject(chat.RoomKey(p.ID)))
	}

	return perms
}

// servicePermissions returns broad permissions for backend service accounts.
// All services run in the CHAT account and need full pub/sub access.
func servicePermissions() jwt.Permissions {
	return jwt.Permissions{
		Pub: jwt.Permission{Allow: jwt.StringList{">"}},
		Sub: jwt.Permission{Allow: jwt.StringList{">"}},
		Resp: &jwt.ResponsePermission{
			MaxMsgs: -1,
			Expires: respTTL,
		},
	}
}
