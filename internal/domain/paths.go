package domain

import "strings"

// Collection names under a board document
const (
	BoardsCollection   = "boards"
	CardsCollection    = "cards"
	LinksCollection    = "links"
	PresenceCollection = "presence"
)

// BoardPath boards/{boardID}
func BoardPath(boardID string) string {
	return BoardsCollection + "/" + boardID
}

// BoardPrefix path prefix shared by every document of a board
// BoardPrefix 看板下所有文档共享的路径前缀
func BoardPrefix(boardID string) string {
	return BoardPath(boardID) + "/"
}

// CardsPath boards/{boardID}/cards
func CardsPath(boardID string) string {
	return BoardPath(boardID) + "/" + CardsCollection
}

// CardPath boards/{boardID}/cards/{cardID}
func CardPath(boardID, cardID string) string {
	return CardsPath(boardID) + "/" + cardID
}

// LinksPath boards/{boardID}/links
func LinksPath(boardID string) string {
	return BoardPath(boardID) + "/" + LinksCollection
}

// LinkPath boards/{boardID}/links/{linkID}
func LinkPath(boardID, linkID string) string {
	return LinksPath(boardID) + "/" + linkID
}

// PresencePath boards/{boardID}/presence
func PresencePath(boardID string) string {
	return BoardPath(boardID) + "/" + PresenceCollection
}

// PresenceDocPath boards/{boardID}/presence/{uid}
func PresenceDocPath(boardID, uid string) string {
	return PresencePath(boardID) + "/" + uid
}

// BoardIDFromPath extracts the board id from any path under boards/
// BoardIDFromPath 从 boards/ 下的任意路径提取看板 ID
func BoardIDFromPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != BoardsCollection {
		return ""
	}
	return parts[1]
}
