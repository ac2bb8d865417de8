package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/ebfe/scard"

	"github.com/veenone/ccm-tool/pkg/config"
	"github.com/veenone/ccm-tool/pkg/globalplatform"
	"github.com/veenone/ccm-tool/pkg/iso7816"
	"github.com/veenone/ccm-tool/pkg/scp"
)

func main() {
	// --- 1. Hardware Setup ---
	ctx, card := connectToCard()

	defer func() {
		if err := ctx.Release(); err != nil {
			log.Printf("Warning: Failed to release context: %v", err)
		}
	}()

	defer func() {
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			log.Printf("Warning: Failed to disconnect card: %v", err)
		}
	}()

	// --- 2. Logic Setup ---
	client := iso7816.NewClient(card)
	manager := globalplatform.NewManager(client)

	// --- 3. Execution Flow ---

	// Step 1: Select the Issuer Security Domain.
	if err := step1SelectCardManager(manager); err != nil {
		log.Fatalf("Step 1 failed: %v", err)
	}

	// Step 2: Pre-authentication discovery reads.
	step2CardInfo(manager)

	// Step 3: Open a secure channel with the configured keyset.
	if err := step3SecureChannel(manager); err != nil {
		log.Fatalf("Step 3 failed: %v", err)
	}
	defer manager.CloseSecureChannel()

	// Step 4: Enumerate the card content registry.
	step4ListContent(manager)

	fmt.Println("\n>> Demo Finished Successfully")
}

// =========================================================================
// Helper Functions
// =========================================================================

// connectToCard handles the PC/SC context establishment and reader connection.
func connectToCard() (*scard.Context, *scard.Card) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		log.Fatalf("Error establishing context: %s", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		if relErr := ctx.Release(); relErr != nil {
			log.Printf("Warning: Failed to release context during error handling: %v", relErr)
		}
		log.Fatal("No smart card reader found.")
	}

	fmt.Printf(">> Using reader: %s\n", readers[0])

	card, err := ctx.Connect(readers[0], scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		if relErr := ctx.Release(); relErr != nil {
			log.Printf("Warning: Failed to release context during error handling: %v", relErr)
		}
		log.Fatalf("Error connecting to card: %s", err)
	}

	return ctx, card
}

func step1SelectCardManager(manager *globalplatform.Manager) error {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 1: SELECT ISSUER SECURITY DOMAIN")
	fmt.Println("=============================================")

	fci, err := manager.SelectCardManager()
	if err != nil {
		return err
	}

	fmt.Printf(">> Selected AID: %X\n", fci.AID)
	if len(fci.Proprietary.SDManagementData) > 0 {
		fmt.Printf(">> SD management data: %X\n", fci.Proprietary.SDManagementData)
	}
	if fci.Proprietary.MaxCommandLength > 0 {
		fmt.Printf(">> Max command length: %d bytes (extended length: %v)\n",
			fci.Proprietary.MaxCommandLength, fci.SupportsExtendedLength())
	}
	return nil
}

func step2CardInfo(manager *globalplatform.Manager) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 2: CARD DISCOVERY DATA")
	fmt.Println("=============================================")

	info, err := manager.GetCardInfo()
	if err != nil {
		log.Printf("Step 2 Warning: %v", err)
		return
	}

	if len(info.CPLC) > 0 {
		fmt.Printf(">> CPLC: %X\n", info.CPLC)
	}
	if len(info.CardRecognition) > 0 {
		fmt.Printf(">> Card recognition data: %X\n", info.CardRecognition)
	}
	for _, key := range info.Keys {
		fmt.Printf(">> %s\n", key)
	}
}

func step3SecureChannel(manager *globalplatform.Manager) error {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 3: ESTABLISH SECURE CHANNEL")
	fmt.Println("=============================================")

	keyset, err := loadKeyset()
	if err != nil {
		return err
	}

	fmt.Printf(">> Keyset: %s, key version %02X, level %s\n",
		keyset.Protocol, keyset.Version, keyset.Level)

	if err := manager.EstablishSecureChannel(keyset.Keyset, keyset.Level); err != nil {
		return err
	}
	fmt.Println(">> Secure channel established")
	return nil
}

// loadKeyset reads keysets.yaml and picks the "default" entry, falling back
// to the GP test keyset when no file is present.
func loadKeyset() (config.Keyset, error) {
	keysets, err := config.LoadKeysets("keysets.yaml")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config.Keyset{}, err
		}
		fmt.Println(">> keysets.yaml not found, using the GP test keyset")
		testKey := []byte{
			0x40, 0x41, 0x42, 0x43, 0x44, 0x45, 0x46, 0x47,
			0x48, 0x49, 0x4A, 0x4B, 0x4C, 0x4D, 0x4E, 0x4F,
		}
		return config.Keyset{
			Keyset: scp.Keyset{Protocol: scp.SCP03, ENC: testKey, MAC: testKey, DEK: testKey},
			Level:  scp.LevelMAC,
		}, nil
	}

	keyset, ok := keysets["default"]
	if !ok {
		return config.Keyset{}, fmt.Errorf("keysets.yaml has no \"default\" entry")
	}
	return keyset, nil
}

func step4ListContent(manager *globalplatform.Manager) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 4: CARD CONTENT REGISTRY")
	fmt.Println("=============================================")

	domains, err := manager.ListSecurityDomains()
	if err != nil {
		log.Printf("Step 4 Warning: listing security domains: %v", err)
	}
	fmt.Printf("\n>> Security domains (%d found)\n", len(domains))
	for _, sd := range domains {
		fmt.Printf("   [+] %s\n", sd)
	}

	apps, err := manager.ListApplications()
	if err != nil {
		log.Printf("Step 4 Warning: listing applications: %v", err)
	}
	fmt.Printf("\n>> Applications (%d found)\n", len(apps))
	for _, app := range apps {
		fmt.Printf("   [+] %s\n", app)
	}
}
