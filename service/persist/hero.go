package persist

import (
	"fmt"
	"strings"
)

// HeroClass represents the class of a hero NFT, a small enum assigned at mint
type HeroClass uint8

const (
	// HeroClassWarrior is a brave warrior with powerful melee combat abilities
	HeroClassWarrior HeroClass = iota
	// HeroClassSwordmaster is a legendary swordsman with exceptional swordsmanship
	HeroClassSwordmaster
	// HeroClassAssassin is a shadow assassin with agile movements and deadly strikes
	HeroClassAssassin
	// HeroClassArcher is an elite archer with long-range precision sniping
	HeroClassArcher
	// HeroClassMage is a mystic mage controlling elemental magic
	HeroClassMage
	// MaxHeroClass is the highest valid hero class value
	MaxHeroClass = HeroClassMage
)

var heroClassNames = map[HeroClass]string{
	HeroClassWarrior:     "Brave Warrior",
	HeroClassSwordmaster: "Legendary Swordmaster",
	HeroClassAssassin:    "Shadow Assassin",
	HeroClassArcher:      "Elite Archer",
	HeroClassMage:        "Mystic Mage",
}

var heroClassImageCIDs = map[HeroClass]string{
	HeroClassWarrior:     "bafkreifkvbyytyqi7z66a7q2k5kzoxxc7osevdafmmbvm2mbfkiyao5nie",
	HeroClassSwordmaster: "bafkreicox4d3grjebxqv62vsq7bedpfbogx3qfmul5sxwfcp4ud6gqueui",
	HeroClassAssassin:    "bafkreigi5srff2asnxwkhqbobc2vsbe45bassbaspqerkikofot4mmylue",
	HeroClassArcher:      "bafkreidvir3s5ml6cldydcrow7yguyw762fghnv27qeecvxw67ireakbna",
	HeroClassMage:        "bafkreiem43q74cdoy2kpn3hwopdgumis2l6znsmjv3jpmpxjpmchf3hhom",
}

// defaultIPFSGateway serves hero images when no gateway is configured
const defaultIPFSGateway = "https://ipfs.io/ipfs/"

// Valid reports whether the class value is one of the defined classes
func (c HeroClass) Valid() bool {
	return c <= MaxHeroClass
}

// Name returns the display name of the class
func (c HeroClass) Name() string {
	if name, ok := heroClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown Class %d", uint8(c))
}

// ImageURL returns the HTTP gateway URL of the class image
func (c HeroClass) ImageURL() string {
	cid, ok := heroClassImageCIDs[c]
	if !ok {
		return ""
	}
	return IPFSToHTTP("ipfs://" + cid)
}

// IPFSToHTTP maps an ipfs:// URI onto an HTTP gateway URL. Non-IPFS URIs pass through.
func IPFSToHTTP(uri string) string {
	if strings.HasPrefix(uri, "ipfs://") {
		return defaultIPFSGateway + strings.TrimPrefix(uri, "ipfs://")
	}
	return uri
}

// AttributeNames are the upgradable hero attributes, indexed by the attribute index
// carried on training events.
var AttributeNames = []string{"Attack", "Defense", "HP", "Speed", "Luck"}

// AttributeName returns the display name for an attribute index.
func AttributeName(index int) string {
	if index >= 0 && index < len(AttributeNames) {
		return AttributeNames[index]
	}
	return fmt.Sprintf("Attribute %d", index)
}
